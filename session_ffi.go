/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Call Session FFI Exports
 * 通话会话相关的 C 导出函数
 * Start 与 ShareScreen 可能阻塞在设备授权上，因此异步执行，结果通过事件回调返回
 */
package main

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import (
	"context"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/events"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// 返回码
const (
	resultOK           = 0
	resultNotFound     = -1
	resultInvalidState = -2
	resultInvalidArg   = -3
)

// ==========================================
// 会话创建与销毁
// ==========================================

// CallCreate 创建空闲会话，返回会话 ID（需 FreeString）
// configJSON: 为空时沿用当前配置；非空时按新配置重建引擎并结束旧通话
//
//export CallCreate
func CallCreate(configJSON *C.char) *C.char {
	var goConfig string
	if configJSON != nil {
		goConfig = C.GoString(configJSON)
	}

	e, err := acquireEngine(goConfig)
	if err != nil {
		utils.Error("CallCreate: %v", err)
		return nil
	}

	session := e.registry.Create()
	events.Attach(session, emitEvent)

	utils.Info("Call session created: %s", session.ID())
	return C.CString(session.ID())
}

// CallDestroy 结束并移除会话
//
//export CallDestroy
func CallDestroy(sessionID *C.char) C.int {
	if !removeSession(C.GoString(sessionID)) {
		return C.int(resultNotFound)
	}
	return C.int(resultOK)
}

// ==========================================
// 通话生命周期
// ==========================================

// CallStart 异步发起通话；进度与失败原因通过 state_changed / error 事件返回
//
//export CallStart
func CallStart(sessionID *C.char) C.int {
	session := getSession(C.GoString(sessionID))
	if session == nil {
		return C.int(resultNotFound)
	}
	if session.State() != call.StateIdle {
		return C.int(resultInvalidState)
	}

	go func() {
		if err := session.Start(context.Background()); err != nil {
			utils.Warn("Call %s start failed (%s): %v", session.ID(), call.FailureReason(err), err)
		}
	}()
	return C.int(resultOK)
}

// CallEnd 挂断，可重复调用
//
//export CallEnd
func CallEnd(sessionID *C.char) C.int {
	session := getSession(C.GoString(sessionID))
	if session == nil {
		return C.int(resultNotFound)
	}
	session.End()
	return C.int(resultOK)
}

// ==========================================
// 通话控制
// ==========================================

// CallToggleMute 切换静音，返回 1 已静音 / 0 未静音 / 负数错误
//
//export CallToggleMute
func CallToggleMute(sessionID *C.char) C.int {
	session := getSession(C.GoString(sessionID))
	if session == nil {
		return C.int(resultNotFound)
	}
	if !session.ToggleMute() {
		return C.int(resultInvalidState)
	}
	return boolToInt(session.Flags().Muted)
}

// CallToggleVideo 切换摄像头，返回 1 已关闭 / 0 已开启 / 负数错误
//
//export CallToggleVideo
func CallToggleVideo(sessionID *C.char) C.int {
	session := getSession(C.GoString(sessionID))
	if session == nil {
		return C.int(resultNotFound)
	}
	if !session.ToggleVideo() {
		return C.int(resultInvalidState)
	}
	return boolToInt(session.Flags().VideoOff)
}

// CallShareScreen 异步开始屏幕共享；失败通过 error 事件返回，通话保持 Active
//
//export CallShareScreen
func CallShareScreen(sessionID *C.char) C.int {
	session := getSession(C.GoString(sessionID))
	if session == nil {
		return C.int(resultNotFound)
	}
	if session.State() != call.StateActive {
		return C.int(resultInvalidState)
	}

	go func() {
		if err := session.ShareScreen(context.Background()); err != nil {
			utils.Warn("Call %s screen share failed: %v", session.ID(), err)
		}
	}()
	return C.int(resultOK)
}

// CallStopScreenShare 停止屏幕共享，恢复摄像头
//
//export CallStopScreenShare
func CallStopScreenShare(sessionID *C.char) C.int {
	session := getSession(C.GoString(sessionID))
	if session == nil {
		return C.int(resultNotFound)
	}
	if session.State() != call.StateActive {
		return C.int(resultInvalidState)
	}
	session.StopScreenShare()
	return C.int(resultOK)
}

// ==========================================
// 状态查询
// ==========================================

// CallGetStatus 获取会话状态 JSON（需 FreeString）
//
//export CallGetStatus
func CallGetStatus(sessionID *C.char) *C.char {
	session := getSession(C.GoString(sessionID))
	if session == nil {
		return nil
	}
	return C.CString(session.Status().ToJSON())
}

// CallGetStats 获取流量统计 JSON（需 FreeString）
//
//export CallGetStats
func CallGetStats(sessionID *C.char) *C.char {
	session := getSession(C.GoString(sessionID))
	if session == nil {
		return nil
	}
	return C.CString(session.Stats().ToJSON())
}

// ==========================================
// 模拟设备
// ==========================================

// CallSetPermission 设置模拟授权结果：grant / deny / unavailable
//
//export CallSetPermission
func CallSetPermission(permission *C.char) C.int {
	p, err := media.ParsePermission(C.GoString(permission))
	if err != nil {
		return C.int(resultInvalidArg)
	}
	e, err := acquireEngine("")
	if err != nil {
		return C.int(resultInvalidArg)
	}
	e.devices.SetPermission(p)
	return C.int(resultOK)
}

// CallSetDisplayAvailable 设置是否存在可共享的屏幕
//
//export CallSetDisplayAvailable
func CallSetDisplayAvailable(available C.int) C.int {
	e, err := acquireEngine("")
	if err != nil {
		return C.int(resultInvalidArg)
	}
	e.devices.SetDisplayAvailable(available != 0)
	return C.int(resultOK)
}

func boolToInt(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
