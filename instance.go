/*
 * @Author: Marlon.M
 * @Email: maiguangyang@163.com
 * @Date: 2025-12-24
 *
 * Engine management for the FFI surface.
 * One registry serves every call; passing a config to CallCreate rebuilds it.
 */
package main

import (
	"fmt"
	"sync"

	"github.com/maiguangyang/call_core/pkg/call"
	"github.com/maiguangyang/call_core/pkg/config"
	"github.com/maiguangyang/call_core/pkg/media"
	"github.com/maiguangyang/call_core/pkg/peer"
	"github.com/maiguangyang/call_core/pkg/utils"
)

// engine holds the registry and the devices behind it
type engine struct {
	devices  *media.SyntheticDevices
	registry *call.Registry
}

var (
	engineMu sync.Mutex
	current  *engine
)

func newEngine(cfg *config.Config) (*engine, error) {
	deviceCfg, err := cfg.SyntheticConfig()
	if err != nil {
		return nil, err
	}

	substrate, err := peer.NewPionSubstrate(cfg.PionOptions()...)
	if err != nil {
		return nil, fmt.Errorf("create substrate: %w", err)
	}

	devices := media.NewSyntheticDevices(deviceCfg)
	return &engine{
		devices:  devices,
		registry: call.NewRegistry(devices, substrate, substrate, cfg.CallOptions()),
	}, nil
}

// acquireEngine returns the current engine, rebuilding it when configJSON is set.
// Rebuilding ends the calls of the previous engine.
func acquireEngine(configJSON string) (*engine, error) {
	engineMu.Lock()
	defer engineMu.Unlock()

	if current != nil && configJSON == "" {
		return current, nil
	}

	cfg, err := config.FromJSON(configJSON)
	if err != nil {
		return nil, err
	}
	utils.SetLevel(cfg.LogLevel())

	e, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}

	if current != nil {
		current.registry.CloseAll()
	}
	current = e
	return e, nil
}

// getSession looks a session up in the current engine
func getSession(id string) *call.Session {
	engineMu.Lock()
	e := current
	engineMu.Unlock()

	if e == nil {
		return nil
	}
	s, err := e.registry.Get(id)
	if err != nil {
		return nil
	}
	return s
}

// removeSession ends and forgets a session
func removeSession(id string) bool {
	engineMu.Lock()
	e := current
	engineMu.Unlock()

	if e == nil {
		return false
	}
	return e.registry.Remove(id) == nil
}

// closeEngine ends every call and drops the engine
func closeEngine() {
	engineMu.Lock()
	e := current
	current = nil
	engineMu.Unlock()

	if e != nil {
		e.registry.CloseAll()
	}
}
