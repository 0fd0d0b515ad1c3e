package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ducminhle1904/risk-orchestrator/cmd/common"
	"github.com/ducminhle1904/risk-orchestrator/internal/config"
	"github.com/ducminhle1904/risk-orchestrator/internal/control"
)

func main() {
	flags := common.RegisterCommonFlags()
	var (
		operator = flag.String("operator", "", "Operator id written to the token subject")
		roles    = flag.String("roles", string(control.RoleViewer), "Comma-separated roles: viewer, operator, risk_officer, admin")
		ttl      = flag.Duration("ttl", 12*time.Hour, "Token lifetime")
	)
	flag.Parse()
	flags.HandleVersion("token")

	if *operator == "" {
		fmt.Println("❌ Please specify an operator with -operator")
		fmt.Println("\nUsage examples:")
		fmt.Println("  ./token -operator alice -roles risk_officer")
		fmt.Println("  ./token -operator ci -roles viewer -ttl 1h")
		os.Exit(1)
	}

	if err := config.LoadEnv(*flags.EnvFile); err != nil {
		common.Fatal("%v", err)
	}
	secret := os.Getenv(config.EnvControlSecret)
	if secret == "" {
		common.Fatal("%s is not set", config.EnvControlSecret)
	}

	var parsed []control.Role
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(strings.ToLower(r)); r != "" {
			parsed = append(parsed, control.Role(r))
		}
	}

	token, err := control.IssueToken(secret, *operator, parsed, *ttl)
	if err != nil {
		common.Fatal("issue token: %v", err)
	}
	fmt.Println(token)
}
