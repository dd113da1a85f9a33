package util

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
)

// 定义颜色常量
const (
	ColorReset  = "\x1b[0m"
	ColorRed    = "\x1b[1;31m"
	ColorGreen  = "\x1b[1;32m"
	ColorYellow = "\x1b[1;33m"
	ColorBlue   = "\x1b[1;34m"
	ColorCyan   = "\x1b[1;36m"
)

// 字符串转 ANSI 颜色码
func colorCode(name string) string {
	switch name {
	case "red":
		return ColorRed
	case "green":
		return ColorGreen
	case "yellow":
		return ColorYellow
	case "blue":
		return ColorBlue
	case "cyan":
		return ColorCyan
	default:
		return ""
	}
}

// PrintBanner 打印整体统一颜色的 ASCII banner
// 未知颜色不输出转义码
func PrintBanner(w io.Writer, text, color string) {
	fig := figure.NewFigure(text, "", true)
	ansi := colorCode(color)
	for _, line := range fig.Slicify() {
		if ansi == "" {
			fmt.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, ansi+line+ColorReset)
	}
}
