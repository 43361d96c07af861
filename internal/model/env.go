package model

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix of environment variables overriding the config file, e.g.
// MODULUS_SERVICE_LOG for service.log.
const EnvPrefix = "MODULUS"

var envKeys = []string{"sysroot", "mount_dir", "kickstart", "service.log", "service.verbose"}

// ApplyEnv overrides cfg by the MODULUS_* environment variables.
func ApplyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if v.IsSet("sysroot") {
		cfg.Sysroot = v.GetString("sysroot")
	}
	if v.IsSet("mount_dir") {
		cfg.MountDir = v.GetString("mount_dir")
	}
	if v.IsSet("kickstart") {
		cfg.Kickstart = v.GetString("kickstart")
	}
	if v.IsSet("service.log") {
		cfg.Service.Log = v.GetString("service.log")
	}
	if v.IsSet("service.verbose") {
		cfg.Service.Verbose = v.GetBool("service.verbose")
	}
}
