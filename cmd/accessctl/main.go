package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hrkit/access"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "seed":
		handleSeed()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("accessctl - Configuration tool for the access engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  accessctl convert <input> <output>  - Convert between formats")
	fmt.Println("  accessctl validate <file>           - Validate configuration")
	fmt.Println("  accessctl stats <file>              - Show configuration statistics")
	fmt.Println("  accessctl seed <output>             - Write the default catalogue")
	fmt.Println("  accessctl apply <file>              - Load configuration into an engine")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: accessctl convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	declaredRoles := map[string]bool{}
	for _, r := range cfg.Roles {
		declaredRoles[r.Code] = true
	}
	declaredPerms := map[string]bool{}
	for _, p := range cfg.Permissions {
		declaredPerms[p.Code] = true
	}
	for _, g := range cfg.Grants {
		if !declaredRoles[g.RoleCode] {
			fmt.Printf("Grant references undeclared role %s\n", g.RoleCode)
			os.Exit(1)
		}
		if !declaredPerms[g.PermissionCode] {
			fmt.Printf("Grant references undeclared permission %s\n", g.PermissionCode)
			os.Exit(1)
		}
	}
	for _, a := range cfg.Assignments {
		if !declaredRoles[a.Role] {
			fmt.Printf("Assignment for user %d references undeclared role %s\n", a.UserID, a.Role)
			os.Exit(1)
		}
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Permissions: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles: %d\n", len(cfg.Roles))
	fmt.Printf("  Grants: %d\n", len(cfg.Grants))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Printf("  Overrides: %d\n", len(cfg.Overrides))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Permissions: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Grants:      %d\n", len(cfg.Grants))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Printf("  Overrides:   %d\n", len(cfg.Overrides))
	fmt.Printf("  Settings:    %d\n", len(cfg.Settings))
	fmt.Println()

	if len(cfg.Grants) > 0 && len(cfg.Roles) > 0 {
		perRole := map[string]int{}
		conditioned := 0
		for _, g := range cfg.Grants {
			perRole[g.RoleCode]++
			if len(g.Conditions) > 0 {
				conditioned++
			}
		}
		fmt.Println("Grant Details:")
		fmt.Printf("  Conditioned grants: %d\n", conditioned)
		fmt.Printf("  Avg per role:       %.1f\n", float64(len(cfg.Grants))/float64(len(cfg.Roles)))
		fmt.Println()
	}

	if len(cfg.Overrides) > 0 {
		grantCount := 0
		denyCount := 0
		for _, o := range cfg.Overrides {
			switch o.Type {
			case access.OverrideGrant:
				grantCount++
			case access.OverrideDeny:
				denyCount++
			}
		}
		fmt.Println("Override Details:")
		fmt.Printf("  Grant overrides: %d\n", grantCount)
		fmt.Printf("  Deny overrides:  %d\n", denyCount)
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Cache TTL:         %dms\n", cfg.Engine.CacheTTL)
	fmt.Printf("  Setting cache TTL: %dms\n", cfg.Engine.SettingCacheTTL)
}

func handleSeed() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl seed <output>")
		os.Exit(1)
	}

	outputFile := os.Args[2]
	cfg := access.DefaultCatalogue()
	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Default catalogue written to %s\n", outputFile)
	fmt.Printf("  Permissions: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles: %d\n", len(cfg.Roles))
	fmt.Printf("  Grants: %d\n", len(cfg.Grants))
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl apply <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	audit := access.NewMemoryAuditStore()
	engine, err := access.NewEngine(access.NewMemoryEntityStore(audit), audit)
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg, nil); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Permissions loaded: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles loaded: %d\n", len(cfg.Roles))
	fmt.Printf("  Grants loaded: %d\n", len(cfg.Grants))
	fmt.Printf("  Assignments loaded: %d\n", len(cfg.Assignments))
}

func loadConfig(filename string) (*access.Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filename))
	loader := access.NewConfigLoader()

	switch ext {
	case ".yaml", ".yml":
		return loader.LoadYAML(data)
	case ".json":
		return loader.LoadJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func saveConfig(cfg *access.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
