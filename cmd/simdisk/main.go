// Command simdisk is the interactive shell client for simdiskd.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"simdisk/internal/client"
	"simdisk/internal/config"
)

func main() {
	var vip *viper.Viper

	cmd := &cobra.Command{
		Use:   "simdisk",
		Short: "simdisk is the interactive client for simdiskd",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(vip)
		},
	}

	v, err := config.BindClientFlags(cmd.Flags())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	vip = v

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(vip *viper.Viper) error {
	cfg, err := config.LoadClient(vip)
	if err != nil {
		return err
	}

	stdin := bufio.NewReader(os.Stdin)
	username := cfg.Username
	if username == "" {
		fmt.Print("username: ")
		line, _ := stdin.ReadString('\n')
		username = strings.TrimSpace(line)
	}
	fmt.Print("password: ")
	passLine, _ := stdin.ReadString('\n')
	password := strings.TrimSpace(passLine)

	sess, err := client.Dial(cfg.ServerAddr, username, password, false)
	if err != nil {
		fmt.Println("login failed, trying regist:", err)
		sess, err = client.Dial(cfg.ServerAddr, username, password, true)
		if err != nil {
			return err
		}
	}

	return client.RunShell(sess, stdin, os.Stdout)
}
