package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"mezada/internal/config"
)

// userService describes where a per-user service file lives on one OS and
// how the operator starts it.
type userService struct {
	file  string // relative to the home directory
	tmpl  *template.Template
	start string
	stop  string
}

type serviceData struct {
	Label  string
	Exec   string
	Config string
	Log    string
}

const serviceLabel = "com.mezada.relay"

var userServices = map[string]userService{
	"linux": {
		file:  filepath.Join(".config", "systemd", "user", "mezada.service"),
		tmpl:  template.Must(template.New("systemd").Parse(systemdUnit)),
		start: "systemctl --user enable --now mezada",
		stop:  "systemctl --user disable --now mezada",
	},
	"darwin": {
		file:  filepath.Join("Library", "LaunchAgents", serviceLabel+".plist"),
		tmpl:  template.Must(template.New("launchd").Parse(launchdPlist)),
		start: "launchctl load -w ~/Library/LaunchAgents/" + serviceLabel + ".plist",
		stop:  "launchctl unload -w ~/Library/LaunchAgents/" + serviceLabel + ".plist",
	},
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run `mezada serve` as a per-user service (systemd or launchd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write the service file for this OS",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			return installService(runtime.GOOS, exe, config.ExpandPath(resolveConfigPath()))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file for this OS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return uninstallService(runtime.GOOS)
		},
	})
	return cmd
}

func lookupService(goos string) (userService, string, error) {
	svc, ok := userServices[goos]
	if !ok {
		return userService{}, "", fmt.Errorf("unsupported OS: %s (supported: linux, darwin)", goos)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return userService{}, "", fmt.Errorf("home directory: %w", err)
	}
	return svc, home, nil
}

func renderService(svc userService, data serviceData) (string, error) {
	var b strings.Builder
	if err := svc.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render service file: %w", err)
	}
	return b.String(), nil
}

func installService(goos, exe, cfgPath string) error {
	svc, home, err := lookupService(goos)
	if err != nil {
		return err
	}
	data := serviceData{
		Label:  serviceLabel,
		Exec:   exe,
		Config: cfgPath,
		Log:    filepath.Join(home, ".mezada", "logs", "mezada.log"),
	}
	body, err := renderService(svc, data)
	if err != nil {
		return err
	}

	path := filepath.Join(home, svc.file)
	for _, dir := range []string{filepath.Dir(path), filepath.Dir(data.Log)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return fmt.Errorf("write service file: %w", err)
	}
	logger.Info("service installed", "file", path, "start", svc.start, "stop", svc.stop)
	return nil
}

func uninstallService(goos string) error {
	svc, home, err := lookupService(goos)
	if err != nil {
		return err
	}
	path := filepath.Join(home, svc.file)
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove service file: %w", err)
	}
	logger.Info("service removed", "file", path)
	return nil
}

const systemdUnit = `[Unit]
Description=Mezada WhatsApp advice relay
After=network-online.target

[Service]
Type=simple
ExecStart={{.Exec}} serve --config {{.Config}}
Restart=on-failure
RestartSec=5
TimeoutStopSec=45

[Install]
WantedBy=default.target
`

const launchdPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key><string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.Exec}}</string><string>serve</string>
		<string>--config</string><string>{{.Config}}</string>
	</array>
	<key>RunAtLoad</key><true/>
	<key>KeepAlive</key><true/>
	<key>StandardErrorPath</key><string>{{.Log}}</string>
</dict>
</plist>
`
