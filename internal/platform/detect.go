package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "whisperapi"

type Runtime struct {
	OS   string
	Arch string
}

func CurrentRuntime() Runtime {
	return Runtime{
		OS:   runtime.GOOS,
		Arch: NormalizeArch(runtime.GOARCH),
	}
}

func (r Runtime) String() string {
	return r.OS + "/" + r.Arch
}

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

// Env carries the environment the default directories are derived from.
type Env struct {
	GOOS          string
	HomeDir       string
	XDGDataHome   string
	XDGCacheHome  string
	XDGConfigHome string
}

func CurrentEnv() (Env, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Env{}, fmt.Errorf("resolve user home: %w", err)
	}
	return Env{
		GOOS:          runtime.GOOS,
		HomeDir:       homeDir,
		XDGDataHome:   os.Getenv("XDG_DATA_HOME"),
		XDGCacheHome:  os.Getenv("XDG_CACHE_HOME"),
		XDGConfigHome: os.Getenv("XDG_CONFIG_HOME"),
	}, nil
}

// ModelDir holds downloaded ggml weights.
func (e Env) ModelDir() (string, error) {
	dataDir, err := e.dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "models"), nil
}

// AudioDir holds per-request temporary files.
func (e Env) AudioDir() (string, error) {
	cacheDir, err := e.cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "audio"), nil
}

func (e Env) ConfigFile() (string, error) {
	if e.HomeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch e.GOOS {
	case "linux":
		if e.XDGConfigHome != "" {
			return filepath.Join(e.XDGConfigHome, appName, "config.yaml"), nil
		}
		return filepath.Join(e.HomeDir, ".config", appName, "config.yaml"), nil
	case "darwin":
		return filepath.Join(e.HomeDir, "Library", "Application Support", appName, "config.yaml"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", e.GOOS)
	}
}

func ResolveModelDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	env, err := CurrentEnv()
	if err != nil {
		return "", err
	}
	return env.ModelDir()
}

func ResolveAudioDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}
	env, err := CurrentEnv()
	if err != nil {
		return "", err
	}
	return env.AudioDir()
}

func (e Env) dataDir() (string, error) {
	if e.HomeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch e.GOOS {
	case "linux":
		if e.XDGDataHome != "" {
			return filepath.Join(e.XDGDataHome, appName), nil
		}
		return filepath.Join(e.HomeDir, ".local", "share", appName), nil
	case "darwin":
		return filepath.Join(e.HomeDir, "Library", "Application Support", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", e.GOOS)
	}
}

func (e Env) cacheDir() (string, error) {
	if e.HomeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch e.GOOS {
	case "linux":
		if e.XDGCacheHome != "" {
			return filepath.Join(e.XDGCacheHome, appName), nil
		}
		return filepath.Join(e.HomeDir, ".cache", appName), nil
	case "darwin":
		return filepath.Join(e.HomeDir, "Library", "Caches", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", e.GOOS)
	}
}
