package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 📦 进程设置加载
// =============================================================================

// Loader 按 默认值 → YAML 文件 → 环境变量 的顺序构造 Settings。
//
//	settings, err := config.NewLoader().WithConfigPath("dynconf.yaml").Load()
//
// YAML 中的未知键是错误，拼错的键不会被静默忽略。
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Settings) error
}

func NewLoader() *Loader {
	return &Loader{envPrefix: "DYNCONF"}
}

// WithConfigPath 文件不存在时沿用默认值
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 在环境变量覆盖之后执行
func (l *Loader) WithValidator(v func(*Settings) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Settings, error) {
	cfg := DefaultSettings()

	if l.configPath != "" {
		if err := decodeFile(l.configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	for _, b := range envBindings(reflect.ValueOf(cfg).Elem(), l.envPrefix) {
		raw, ok := os.LookupEnv(b.key)
		if !ok || raw == "" {
			continue
		}
		if err := assign(b.field, raw); err != nil {
			return nil, fmt.Errorf("failed to load config from env: %s: %w", b.key, err)
		}
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

// EnvKeys 列出所有可用于覆盖的环境变量名
func (l *Loader) EnvKeys() []string {
	bindings := envBindings(reflect.ValueOf(DefaultSettings()).Elem(), l.envPrefix)
	keys := make([]string, len(bindings))
	for i, b := range bindings {
		keys[i] = b.key
	}
	sort.Strings(keys)
	return keys
}

func decodeFile(path string, cfg *Settings) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// 🌱 环境变量覆盖
// =============================================================================

type envBinding struct {
	key   string
	field reflect.Value
}

// envBindings 沿 env 标签展开嵌套结构体：Settings.Reload.QueueTimeout → PREFIX_RELOAD_QUEUE_TIMEOUT
func envBindings(v reflect.Value, prefix string) []envBinding {
	var out []envBinding
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		if f := v.Field(i); f.Kind() == reflect.Struct {
			out = append(out, envBindings(f, key)...)
		} else {
			out = append(out, envBinding{key: key, field: f})
		}
	}
	return out
}

var durationType = reflect.TypeOf(time.Duration(0))

// assign 支持 string、整数、time.Duration、浮点、bool 和逗号分隔的 []string
func assign(f reflect.Value, raw string) error {
	if f.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
		return nil
	}

	switch f.Kind() {
	case reflect.String:
		f.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetInt(n)
	case reflect.Float32, reflect.Float64:
		x, err := strconv.ParseFloat(raw, f.Type().Bits())
		if err != nil {
			return err
		}
		f.SetFloat(x)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case reflect.Slice:
		if f.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", f.Type())
		}
		var parts []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		f.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}
