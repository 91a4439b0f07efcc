package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/shipctl/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the shipctl config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var (
	initOwner string
	initRepo  string
	initForce bool
)

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)

	configInitCmd.Flags().StringVar(&initOwner, "owner", "", "Repository owner")
	configInitCmd.Flags().StringVar(&initRepo, "repo", "", "Repository name")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := config.DefaultConfig()
	cfg.GitHub.Owner = initOwner
	cfg.GitHub.Repo = initRepo

	if err := config.Save(configPath, cfg); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", configPath)
	fmt.Println("Add services and workflows, then set SHIPCTL_GITHUB_TOKEN and run 'shipctl daemon'.")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.GitHub.Token != "" {
		cfg.GitHub.Token = "****"
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}
