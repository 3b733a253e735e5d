// 命令行入口，子命令见 internal/cli。
package main

import "douyin-harvester/internal/cli"

func main() {
	cli.Execute()
}
