package banner

import (
	"fmt"

	"ethiogram/pkg/config"
)

const banner = `
███████╗████████╗██╗  ██╗██╗ ██████╗  ██████╗ ██████╗  █████╗ ███╗   ███╗
██╔════╝╚══██╔══╝██║  ██║██║██╔═══██╗██╔════╝ ██╔══██╗██╔══██╗████╗ ████║
█████╗     ██║   ███████║██║██║   ██║██║  ███╗██████╔╝███████║██╔████╔██║
██╔══╝     ██║   ██╔══██║██║██║   ██║██║   ██║██╔══██╗██╔══██║██║╚██╔╝██║
███████╗   ██║   ██║  ██║██║╚██████╔╝╚██████╔╝██║  ██║██║  ██║██║ ╚═╝ ██║
╚══════╝   ╚═╝   ╚═╝  ╚═╝╚═╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝     ╚═╝
`

// PrintWithEff prints the startup banner with the effective runtime config.
func PrintWithEff(eff config.Effective, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "defaults"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	if eff.Config != nil {
		fmt.Printf("Storage:  %s\n", eff.Config.Storage.Backend)
		if eff.Config.Storage.Backend == "pebble" {
			fmt.Printf("DB Path:  %s\n", eff.DBPath)
		}
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Printf("ws://<host>%s/v1/ws - realtime command/event channel\n", addr)
	fmt.Println("GET /v1/users/online, /v1/groups, /v1/groups/{id}/members")
	fmt.Println("GET /v1/conversations/{id}/messages?limit=<n>")
	fmt.Println("GET /healthz, /readyz, /metrics")

	fmt.Println("\n== Production? ================================================")
	tlsOK := eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != ""
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured (terminate TLS in front or set server.tls)")
	}
	if eff.Config != nil && eff.Config.Storage.Backend == "memory" {
		fmt.Println("- Storage: volatile (messages are lost on restart)")
	}
	if eff.Config != nil && len(eff.Config.Security.CORS.AllowedOrigins) == 0 {
		fmt.Println("- CORS: all origins allowed (set security.cors.allowed_origins)")
	}
	if eff.Config != nil && eff.Config.Retention.Enabled {
		if eff.Config.Retention.Cron != "" {
			fmt.Printf("- Retention: enabled (cron=%s)\n", eff.Config.Retention.Cron)
		} else {
			fmt.Println("- Retention: enabled")
		}
	} else {
		fmt.Println("- Retention: disabled (tombstones accumulate)")
	}

	fmt.Println("\n== Logs =======================================================")
}
