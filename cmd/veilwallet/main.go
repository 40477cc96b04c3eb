package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	veil "github.com/veilnet/veilwallet/pkg"
)

func main() {
	// Load config
	var configPath string
	var config veil.Config

	LoadConfig(configPath, &config)

	// define root command
	rootCmd := &cobra.Command{
		Use: "veilwallet",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(0)
		},
	}

	// Add flags for each configuration option
	rootCmd.PersistentFlags().StringVar(&config.Veilwallet.SafeURL, "safe-url", "", "Safe service base URL")
	rootCmd.PersistentFlags().StringSliceVar(&config.Veilwallet.Members, "members", nil, "Watched member IDs")
	rootCmd.PersistentFlags().IntVar(&config.Veilwallet.Threshold, "threshold", 0, "Watched set threshold")
	rootCmd.PersistentFlags().IntVar(&config.Payment.MaxSpendingCount, "max-spending-count", 0, "Max inputs per transaction")
	rootCmd.PersistentFlags().IntVar(&config.Payment.MaxBroadcastTries, "max-broadcast-tries", 0, "Broadcast retry bound")
	rootCmd.PersistentFlags().StringVar(&config.Signer.RPCHost, "signer-host", "", "Signer RPC host")
	rootCmd.PersistentFlags().IntVar(&config.Signer.RPCPort, "signer-port", 0, "Signer RPC port")
	rootCmd.PersistentFlags().StringVar(&config.WebAPI.AdminBind, "webapi-bind", "", "Control API bind")
	rootCmd.PersistentFlags().StringVar(&config.WebAPI.AdminPort, "webapi-port", "", "Control API port")
	rootCmd.PersistentFlags().StringVar(&config.Store.DBFile, "store-db-file", "", "Store DB file")
	// Bind flags to config fields
	viper.BindPFlags(rootCmd.PersistentFlags())

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the veilwallet engine",
		Run: func(cmd *cobra.Command, args []string) {
			Server(config)
		},
	}

	configCmd := &cobra.Command{
		Use:   "showconf",
		Short: "Print the config state and exit",
		Run: func(cmd *cobra.Command, args []string) {
			o, _ := json.MarshalIndent(config, ">", " ")
			fmt.Println(string(o))
			os.Exit(0)
		},
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)

	// Execute the Cobra command
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
	}
}

func LoadConfig(configPath string, config *veil.Config) {

	configFileName, set := os.LookupEnv("VEIL_ENV")
	if set {
		viper.SetConfigName(configFileName)
	} else {
		viper.SetConfigName("config")
	}

	// Set config file name and search paths
	viper.SetConfigType("toml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/veilwallet/")
	viper.AddConfigPath("$HOME/.veilwallet")

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("failed to find config file: ", err)
		os.Exit(1)
	}

	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("failed to unmarshal config: %s", err))
	}
}
