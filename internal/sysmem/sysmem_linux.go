//go:build linux

package sysmem

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// osRSSMB 从 /proc/self/status 的 VmRSS 行读取常驻内存（MB）
func osRSSMB() int {
	file, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, err := strconv.Atoi(fields[1])
				if err == nil {
					return kb / 1024
				}
			}
		}
	}
	return 0
}
