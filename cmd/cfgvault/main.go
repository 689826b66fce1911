// Command cfgvault sirve y opera un repositorio de configuración versionado.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	// .env es opcional; las variables ya definidas en el entorno ganan.
	_ = godotenv.Load()

	var cfgPath string
	root := &cobra.Command{
		Use:           "cfgvault",
		Short:         "Configuración versionada con sync entre repositorios",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", envOr("CFGVAULT_CONFIG", ""), "Archivo YAML de configuración (env CFGVAULT_CONFIG)")

	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newSyncCmd(&cfgPath))
	root.AddCommand(newStateCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
