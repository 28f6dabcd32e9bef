// Package classify recognizes installers and decides which file
// operations are worth auditing.
package classify

import (
	"regexp"
	"strings"
)

var installerNames = map[string]struct{}{
	"msiexec.exe":     {},
	"setup.exe":       {},
	"install.exe":     {},
	"installer.exe":   {},
	"installutil.exe": {},
	"unins000.exe":    {},
	"uninst.exe":      {},
	"uninstall.exe":   {},
	"update.exe":      {},
	"updater.exe":     {},
	"setupapi.exe":    {},
}

var installerExtensions = []string{".msi", ".msp", ".msu", ".appx", ".appxbundle", ".msix", ".msixbundle"}

var installerPattern = regexp.MustCompile(`(?i)(setup|install|installer|update|updater|uninstall|uninst)`)

var installerSwitches = []string{"/i ", "/install", "/quiet", "/silent"}

// IsInstaller reports whether a process looks like a software installer,
// judging by its name, executable path and command line.
func IsInstaller(name, executablePath, commandLine string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	if _, ok := installerNames[strings.ToLower(name)]; ok {
		return true
	}
	if installerPattern.MatchString(name) {
		return true
	}
	if executablePath != "" {
		if hasInstallerExtension(executablePath) || installerPattern.MatchString(executablePath) {
			return true
		}
	}
	if commandLine != "" {
		lower := strings.ToLower(commandLine)
		for _, sw := range installerSwitches {
			if strings.Contains(lower, sw) {
				return true
			}
		}
		for _, ext := range installerExtensions {
			if strings.Contains(lower, ext) {
				return true
			}
		}
	}
	return false
}

// IsInstallerFile reports whether a file is an installer package.
func IsInstallerFile(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	return hasInstallerExtension(path) || installerPattern.MatchString(baseName(path))
}

// IsMonitoredFile reports whether a file operation on path should be
// audited: executables, drivers, libraries and installers, excluding
// temporary and log files.
func IsMonitoredFile(path string) bool {
	name := strings.ToLower(baseName(path))
	if name == "" {
		return false
	}
	if strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".temp") ||
		strings.HasPrefix(name, "~") || strings.Contains(name, ".log") {
		return false
	}
	switch ext(name) {
	case ".exe", ".dll", ".sys":
		return true
	}
	return IsInstallerFile(path)
}

func hasInstallerExtension(path string) bool {
	e := ext(strings.ToLower(baseName(path)))
	for _, candidate := range installerExtensions {
		if e == candidate {
			return true
		}
	}
	return false
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func ext(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}
