// =============================================================================
// 📦 FlowCanvas 配置加载器
// =============================================================================
// 默认值 → YAML 文件 → 环境变量 → 校验
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("FLOWCANVAS").
//	    Load()
//
// 环境变量名由各层 env 标签拼接而成，例如 FLOWCANVAS_STORE_CACHE_TTL。
// =============================================================================
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "FLOWCANVAS"

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置 YAML 文件路径；文件不存在时沿用默认值
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup 替换环境变量来源
func (l *Loader) WithEnvLookup(lookup func(string) (string, bool)) *Loader {
	l.lookupEnv = lookup
	return l
}

// WithValidator 追加在内置校验之后运行的验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.decodeFile(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) decodeFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// 拼写错误的键直接报错
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) applyEnv(cfg *Config) error {
	for _, b := range bindEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix, "") {
		raw, ok := l.lookupEnv(b.Key)
		if !ok || raw == "" {
			continue
		}
		if err := assign(b.field, raw); err != nil {
			return fmt.Errorf("%s: %w", b.Key, err)
		}
	}
	return nil
}

// =============================================================================
// 🔧 环境变量绑定
// =============================================================================

// EnvBinding 一个可由环境变量覆盖的配置项
type EnvBinding struct {
	Key   string // FLOWCANVAS_SERVER_HTTP_PORT
	Path  string // server.http_port
	Type  string // int | float | bool | string | duration | list
	Value string // 当前值

	field reflect.Value
}

// EnvBindings 列出 cfg 上全部可通过环境变量覆盖的配置项，按 Key 排序
func EnvBindings(cfg *Config, prefix string) []EnvBinding {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	out := bindEnv(reflect.ValueOf(cfg).Elem(), prefix, "")
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

var durationType = reflect.TypeOf(time.Duration(0))

func bindEnv(v reflect.Value, keyPrefix, pathPrefix string) []EnvBinding {
	var out []EnvBinding
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := keyPrefix + "_" + tag
		path := strings.SplitN(sf.Tag.Get("yaml"), ",", 2)[0]
		if pathPrefix != "" {
			path = pathPrefix + "." + path
		}

		fv := v.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != durationType {
			out = append(out, bindEnv(fv, key, path)...)
			continue
		}
		out = append(out, EnvBinding{
			Key:   key,
			Path:  path,
			Type:  typeName(fv),
			Value: render(fv),
			field: fv,
		})
	}
	return out
}

func typeName(v reflect.Value) string {
	if v.Type() == durationType {
		return "duration"
	}
	switch v.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "int"
	case reflect.Float64, reflect.Float32:
		return "float"
	case reflect.Bool:
		return "bool"
	case reflect.Slice:
		return "list"
	default:
		return "string"
	}
}

func render(v reflect.Value) string {
	switch {
	case v.Type() == durationType:
		return time.Duration(v.Int()).String()
	case v.Kind() == reflect.Slice:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(v.Index(i).Interface())
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(v.Interface())
	}
}

// assign 把字符串解析为字段类型并写入；列表以逗号分隔
func assign(v reflect.Value, raw string) error {
	if v.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		v.SetInt(int64(d))
		return nil
	}

	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int64, reflect.Int32:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Float64, reflect.Float32:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list element %s", v.Type().Elem())
		}
		var items []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		v.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field kind %s", v.Kind())
	}
	return nil
}
