package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var configValidate = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	// 错误信息中使用 yaml 字段名
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config validation errors: %w", err)
		}
		for _, fe := range verrs {
			errs = append(errs, describeFieldError(fe))
		}
	}

	switch c.Store.Type {
	case "file":
		if c.Store.Dir == "" {
			errs = append(errs, "store.dir is required for file store")
		}
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for redis store")
		}
	case "database":
		if c.Database.DSN() == "" {
			errs = append(errs, "database.name is required for database store")
		}
	}
	if c.Store.Cache.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required when store.cache is enabled")
	}

	seen := make(map[string]string)
	for _, cat := range c.Editor.Palette {
		for _, item := range cat.Items {
			if prev, dup := seen[item.Name]; dup {
				errs = append(errs, fmt.Sprintf("editor.palette: kind %q listed in both %q and %q", item.Name, prev, cat.Name))
				continue
			}
			seen[item.Name] = cat.Name
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	// Namespace 形如 Config.server.http_port，去掉根类型名
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s must satisfy %s=%s (got %v)", ns, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s is %s", ns, fe.Tag())
}
