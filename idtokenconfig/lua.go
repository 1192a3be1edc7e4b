package idtokenconfig

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/keksclan/goIDToken/idtoken"
	lua "github.com/yuin/gopher-lua"
)

// luaLoader loads config from a Lua file.
type luaLoader struct {
	path string
}

// FromLuaFile creates a Loader that reads config from a Lua file. The file
// must return a table shaped like the JSON config.
func FromLuaFile(path string) Loader {
	return &luaLoader{path: path}
}

func (l *luaLoader) Load(_ context.Context) (*idtoken.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read lua config file: %w", err)
	}
	return LoadLuaString(string(data))
}

// LoadLuaString parses a Lua config string and returns an idtoken.Config.
func LoadLuaString(script string) (*idtoken.Config, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	// Only open safe libs for config parsing
	for _, pair := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(pair.fn))
		L.Push(lua.LString(pair.name))
		L.Call(1, 0)
	}
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("lua config execution: %w", err)
	}

	ret := L.Get(-1)
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua config must return a table, got %s", ret.Type().String())
	}

	cfg := luaTableToConfig(tbl)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func luaTableToConfig(tbl *lua.LTable) *idtoken.Config {
	cfg := &idtoken.Config{
		ProjectID:   getStringField(tbl, "project_id"),
		Issuer:      getStringField(tbl, "issuer"),
		AllowedAlgs: getStringSliceField(tbl, "allowed_algs"),
		ClockSkew:   time.Duration(getNumberField(tbl, "clock_skew_sec")) * time.Second,
		ClientIDs:   getStringSliceField(tbl, "client_ids"),
	}

	if certsTbl := getTableField(tbl, "certs"); certsTbl != nil {
		cfg.Certs.URL = getStringField(certsTbl, "url")
		cfg.Certs.Format = getStringField(certsTbl, "format")
		cfg.Certs.DefaultTTL = time.Duration(getNumberField(certsTbl, "default_ttl_sec")) * time.Second
		cfg.Certs.FetchTimeout = time.Duration(getNumberField(certsTbl, "fetch_timeout_ms")) * time.Millisecond
		cfg.Certs.Namespace = getStringField(certsTbl, "namespace")
		cfg.Certs.RedisURL = getStringField(certsTbl, "redis_url")
		cfg.Certs.ExtraHeaders = getStringMapField(certsTbl, "extra_headers")
		cfg.Certs.MissTTL = time.Duration(getNumberField(certsTbl, "miss_ttl_sec")) * time.Second
	}
	return cfg
}

// Lua table helper functions

func getStringField(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	return ""
}

func getNumberField(tbl *lua.LTable, key string) float64 {
	v := tbl.RawGetString(key)
	if n, ok := v.(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

func getTableField(tbl *lua.LTable, key string) *lua.LTable {
	v := tbl.RawGetString(key)
	if t, ok := v.(*lua.LTable); ok {
		return t
	}
	return nil
}

func getStringSliceField(tbl *lua.LTable, key string) []string {
	t := getTableField(tbl, key)
	if t == nil {
		return nil
	}
	var result []string
	t.ForEach(func(_ lua.LValue, val lua.LValue) {
		if s, ok := val.(lua.LString); ok {
			result = append(result, string(s))
		}
	})
	return result
}

func getStringMapField(tbl *lua.LTable, key string) map[string]string {
	t := getTableField(tbl, key)
	if t == nil {
		return nil
	}
	result := make(map[string]string)
	t.ForEach(func(k lua.LValue, val lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			if vs, ok := val.(lua.LString); ok {
				result[string(ks)] = string(vs)
			}
		}
	})
	if len(result) == 0 {
		return nil
	}
	return result
}
