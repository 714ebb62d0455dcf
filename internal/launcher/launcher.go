// Package launcher resolves which isolated runtime environment provides a
// detector family and prepares a worker process to run inside it. Detector
// backends ship with conflicting native dependencies, so each family lives
// in its own environment directory and each worker runs as a separate OS
// process; the launcher only sets up search paths, it never verifies that
// the detector actually loads. A missing environment surfaces later as a
// load_model failure, not here.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const envDirSuffix = "-env"

// Environment describes the resolved runtime layout for one detector family.
type Environment struct {
	Family    string
	Dir       string // environment directory, empty in a development layout
	Packaged  bool
	LibPaths  []string
	BinPaths  []string
	Warning   string // non-fatal resolution problem, empty when clean
	ModelsDir string
}

// Resolve locates the environment for a family. envRoot is the directory
// holding the per-family "<family>-env" subdirectories; when empty, the
// directory of the running executable is used. A missing environment
// directory is reported through Warning and resolution proceeds with the
// ambient search paths, matching the best-effort contract.
func Resolve(family, envRoot, modelsDir string) Environment {
	env := Environment{Family: family, ModelsDir: modelsDir}

	root := envRoot
	if root == "" {
		exe, err := os.Executable()
		if err != nil {
			env.Warning = fmt.Sprintf("cannot locate executable: %v", err)
			return env
		}
		root = filepath.Dir(exe)
	}

	dir := filepath.Join(root, family+envDirSuffix)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		if hasAnyEnvDir(root) {
			// Packaged layout, but this family was not shipped.
			env.Warning = fmt.Sprintf("environment directory %s not found, using default search paths", dir)
		}
		// Otherwise a development layout: assume the surrounding
		// environment satisfies the request.
		return env
	}

	env.Dir = dir
	env.Packaged = true
	for _, sub := range []string{"lib", "lib64"} {
		if p := filepath.Join(dir, sub); isDir(p) {
			env.LibPaths = append(env.LibPaths, p)
		}
	}
	if p := filepath.Join(dir, "bin"); isDir(p) {
		env.BinPaths = append(env.BinPaths, p)
	}
	if p := filepath.Join(dir, "models"); isDir(p) {
		env.ModelsDir = p
	}
	return env
}

// Apply mutates the current process environment so the resolved
// environment's native libraries win the search order. Called by the worker
// itself before any detector code runs.
func (e Environment) Apply() {
	if !e.Packaged {
		return
	}
	if len(e.LibPaths) > 0 {
		os.Setenv("LD_LIBRARY_PATH", prepend(os.Getenv("LD_LIBRARY_PATH"), e.LibPaths))
	}
	if len(e.BinPaths) > 0 {
		os.Setenv("PATH", prepend(os.Getenv("PATH"), e.BinPaths))
	}
}

// Command builds the exec.Cmd that runs the worker binary inside the
// resolved environment. The controller uses this so the child inherits the
// rewritten search paths without the parent mutating its own.
func Command(binary string, env Environment) *exec.Cmd {
	cmd := exec.Command(binary,
		"-family", env.Family,
		"-models", env.ModelsDir,
	)
	cmd.Env = os.Environ()
	if env.Packaged {
		cmd.Env = overlay(cmd.Env, "LD_LIBRARY_PATH", env.LibPaths)
		cmd.Env = overlay(cmd.Env, "PATH", env.BinPaths)
	}
	return cmd
}

func prepend(existing string, paths []string) string {
	joined := strings.Join(paths, string(os.PathListSeparator))
	if existing == "" {
		return joined
	}
	return joined + string(os.PathListSeparator) + existing
}

// overlay prepends paths to the named list variable within an environ
// slice, adding the variable if absent.
func overlay(environ []string, key string, paths []string) []string {
	if len(paths) == 0 {
		return environ
	}
	prefix := key + "="
	for i, kv := range environ {
		if strings.HasPrefix(kv, prefix) {
			environ[i] = prefix + prepend(strings.TrimPrefix(kv, prefix), paths)
			return environ
		}
	}
	return append(environ, prefix+prepend("", paths))
}

func hasAnyEnvDir(root string) bool {
	entries, err := os.ReadDir(root)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), envDirSuffix) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
