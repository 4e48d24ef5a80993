/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Call Core - loopback video call engine
 * This is the main entry point for C-shared library exports.
 * All functions with //export comments are exposed to Dart FFI.
 *
 * Call management lives in session_ffi.go.
 */
package main

/*
#include <stdlib.h>
#include <stdint.h>

// Callback function types for events
typedef void (*EventCallback)(int eventType, const char* sessionId, const char* endpointId, const char* data);
typedef void (*LogCallback)(int level, const char* message);

// Store the callbacks
static EventCallback eventCallback = NULL;
static LogCallback logCallback = NULL;

// Setter functions
static void setEventCallback(EventCallback cb) {
    eventCallback = cb;
}

static void setLogCallback(LogCallback cb) {
    logCallback = cb;
}

// Caller functions (to be called from Go)
static void callEventCallback(int eventType, const char* sessionId, const char* endpointId, const char* data) {
    if (eventCallback != NULL) {
        eventCallback(eventType, sessionId, endpointId, data);
    }
}

static void callLogCallback(int level, const char* message) {
    if (logCallback != NULL) {
        logCallback(level, message);
    }
}
*/
import "C"

import (
	"unsafe"

	"github.com/maiguangyang/call_core/pkg/events"
	"github.com/maiguangyang/call_core/pkg/utils"
)

const version = "1.0.0-call"

// ==========================================
// Callback Registration
// ==========================================

//export SetEventCallback
func SetEventCallback(callback C.EventCallback) {
	C.setEventCallback(callback)
	utils.Info("Event callback registered")
}

//export SetLogCallback
func SetLogCallback(callback C.LogCallback) {
	C.setLogCallback(callback)

	// Also set the Go logger callback
	utils.SetCallback(func(level utils.LogLevel, message string) {
		cMessage := C.CString(message)
		// Do not free cMessage here; it must be freed by the Dart side to avoid Use-After-Free
		// in async callbacks.
		C.callLogCallback(C.int(level), cMessage)
	})

	utils.Info("Log callback registered")
}

//export SetLogLevel
func SetLogLevel(level C.int) {
	utils.SetLevel(utils.LogLevel(level))
}

// ==========================================
// Utility Functions
// ==========================================

//export FreeString
func FreeString(s *C.char) {
	C.free(unsafe.Pointer(s))
}

//export CleanupAll
func CleanupAll() {
	closeEngine()
	utils.Info("All resources cleaned up")
}

//export GetVersion
func GetVersion() *C.char {
	return C.CString(version)
}

// emitEvent sends a session event through the callback.
// The event code comes from events.Type.Code; data is the JSON payload.
func emitEvent(ev events.Event) {
	cSessionID := C.CString(ev.SessionID)
	cEndpointID := C.CString(ev.EndpointID)
	cData := C.CString(string(ev.Payload))

	defer C.free(unsafe.Pointer(cSessionID))
	defer C.free(unsafe.Pointer(cEndpointID))
	defer C.free(unsafe.Pointer(cData))

	C.callEventCallback(C.int(ev.Type.Code()), cSessionID, cEndpointID, cData)
}

// main is required but not used for c-shared library
func main() {}
