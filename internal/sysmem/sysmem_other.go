//go:build !linux

package sysmem

// 非linux平台没有便宜的RSS读法，统一走运行时兜底
func osRSSMB() int {
	return 0
}
