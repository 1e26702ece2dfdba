package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"p2p-index/index"
	"p2p-index/pkg/logger"
	"p2p-index/pkg/monitor"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	indexAddr        string
	indexCapacity    int
	indexInteractive bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Start the directory (index) service",
	Run: func(cmd *cobra.Command, args []string) {
		logger.Sugar.Infof("Starting index on %s (capacity %d)", indexAddr, indexCapacity)

		server := index.NewServer(indexAddr, indexCapacity)
		if err := server.Listen(); err != nil {
			logger.Sugar.Error("Error starting index: ", err)
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		fmt.Printf("Index waiting for peers on %s\n", server.Addr())

		go monitor.LogPeriodic(time.Minute)

		if indexInteractive {
			go server.Serve()

			fmt.Println("P2P Index Interactive Shell")
			fmt.Println("Type 'help' for commands.")
			prompt.New(
				func(in string) { indexExecutor(in, server) },
				indexCompleter,
				prompt.OptionPrefix("index> "),
				prompt.OptionTitle("P2P Index"),
			).Run()
		} else {
			server.Serve()
		}
	},
}

func indexExecutor(in string, server *index.Server) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping index...")
		server.Stop()
		os.Exit(0)
	case "status":
		fmt.Println(server.Status())
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status   - Show the registration table")
		fmt.Println("  exit     - Stop the index and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func indexCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show the registration table"},
		{Text: "exit", Description: "Stop the index"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVarP(&indexAddr, "addr", "a", "0.0.0.0:7000", "UDP address for the index to listen on")
	indexCmd.Flags().IntVarP(&indexCapacity, "capacity", "c", index.DefaultCapacity, "Maximum number of registrations")
	indexCmd.Flags().BoolVarP(&indexInteractive, "interactive", "i", false, "Start in interactive mode")
}
