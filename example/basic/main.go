/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Example: Basic Call Usage
 *
 * 这个示例展示了 Call Core 的基本使用方法：本地与远端两个 pion 端点在进程内完成一次通话。
 * 注意：这是一个独立的演示程序，不作为 C-shared 库编译。
 *
 * 构建命令: go build -o call_example example/basic/main.go
 */
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/events"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer"
	"github.com/maiguangyang/call_core/pkg/utils"
)

func main() {
	fmt.Println("=== Call Core Basic Example ===")
	fmt.Println()
	utils.SetLevel(utils.LogLevelWarn)

	// 1. 创建模拟设备与 pion 连接
	fmt.Println("1. Creating devices and substrate...")
	devices := media.NewSyntheticDevices(media.DefaultSyntheticConfig())
	substrate, err := peer.NewPionSubstrate()
	if err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	fmt.Println("   ✓ Ready")

	// 2. 创建会话并订阅事件
	fmt.Println("\n2. Creating session...")
	opts := call.DefaultOptions()
	opts.NegotiationTimeout = 15 * time.Second
	registry := call.NewRegistry(devices, substrate, substrate, opts)
	defer registry.CloseAll()

	session := registry.Create()
	events.Attach(session, func(ev events.Event) {
		fmt.Printf("   → %s %s\n", ev.Type, string(ev.Payload))
	})
	fmt.Printf("   ✓ Session %s\n", session.ID())

	// 3. 发起通话
	fmt.Println("\n3. Starting call...")
	if err := session.Start(context.Background()); err != nil {
		fmt.Printf("   Error (%s): %v\n", call.FailureReason(err), err)
		return
	}
	fmt.Println("   ✓ Call active")

	// 4. 控制
	fmt.Println("\n4. Toggling controls...")
	session.ToggleMute()
	session.ToggleVideo()
	session.ToggleVideo()
	if err := session.ShareScreen(context.Background()); err != nil {
		fmt.Printf("   Screen share error: %v\n", err)
	}
	time.Sleep(2 * time.Second)
	session.StopScreenShare()

	// 5. 统计
	fmt.Println("\n5. Stats:")
	fmt.Printf("   %s\n", session.Stats().ToJSON())

	// 6. 挂断
	fmt.Println("\n6. Ending call...")
	session.End()
	fmt.Printf("   ✓ %s\n", session.Status().ToJSON())

	fmt.Println("\n=== Example Complete ===")
}
