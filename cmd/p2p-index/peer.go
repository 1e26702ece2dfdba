package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"p2p-index/peer"
	"p2p-index/pkg/discovery"
	"p2p-index/pkg/logger"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	peerName        string
	peerIndexAddr   string
	peerAdvertiseIP string
	peerShareDir    string
	tagToRegister   string
	tagToFetch      string
	peerInteractive bool
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Start a peer node",
	Run: func(cmd *cobra.Command, args []string) {
		indexAddr := peerIndexAddr
		if indexAddr == "" {
			// No index given: look for one on the local network.
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			found, err := discovery.LocateIndex(ctx)
			if err != nil {
				logger.Sugar.Error("No index address given and mDNS discovery failed: ", err)
				fmt.Fprintln(os.Stderr, "error: no index found; pass --index host:port")
				os.Exit(1)
			}
			fmt.Printf("Discovered index at %s\n", found)
			indexAddr = found
		}

		logger.Sugar.Infof("Starting peer %q, index at %s", peerName, indexAddr)
		p, err := peer.NewPeer(peer.Config{
			Name:        peerName,
			IndexAddr:   indexAddr,
			AdvertiseIP: peerAdvertiseIP,
			ShareDir:    peerShareDir,
		})
		if err != nil {
			logger.Sugar.Error("Error starting peer: ", err)
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}

		go p.Start()

		if tagToRegister != "" {
			if err := p.Register(tagToRegister); err != nil {
				fmt.Printf("Error registering %q: %v\n", tagToRegister, err)
			} else {
				fmt.Printf("Now serving %q\n", tagToRegister)
			}
		}
		if tagToFetch != "" {
			fetchAndReport(p, tagToFetch)
		}

		if peerInteractive {
			fmt.Printf("P2P Peer %q Interactive Shell\n", peerName)
			fmt.Println("Type 'help' for commands.")
			prompt.New(
				func(in string) { peerExecutor(in, p) },
				peerCompleter,
				prompt.OptionPrefix("peer> "),
				prompt.OptionTitle("P2P Peer Node"),
			).Run()
		} else {
			select {}
		}
	},
}

func fetchAndReport(p *peer.Peer, tag string) {
	n, err := p.Fetch(tag)
	if err != nil {
		fmt.Printf("Error fetching %q: %v\n", tag, err)
		return
	}
	fmt.Printf("Fetched %q (%d bytes), now serving it too\n", tag, n)
	if n == 0 {
		fmt.Println("Warning: downloaded 0 bytes, the provider's copy may be empty")
	}
}

func peerExecutor(in string, p *peer.Peer) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Deregistering shared content and stopping peer...")
		if err := p.Shutdown(); err != nil {
			logger.Sugar.Warnf("Shutdown cleanup: %v", err)
		}
		os.Exit(0)
	case "status":
		fmt.Println(p.Status())
	case "register":
		if len(blocks) < 2 {
			fmt.Println("Usage: register <content_tag>")
			return
		}
		if err := p.Register(blocks[1]); err != nil {
			fmt.Printf("Error registering %q: %v\n", blocks[1], err)
		} else {
			fmt.Printf("Now serving %q\n", blocks[1])
		}
	case "fetch":
		if len(blocks) < 2 {
			fmt.Println("Usage: fetch <content_tag>")
			return
		}
		fetchAndReport(p, blocks[1])
	case "deregister":
		if len(blocks) < 2 {
			fmt.Println("Usage: deregister <content_tag>")
			return
		}
		if err := p.Deregister(blocks[1]); err != nil {
			fmt.Printf("Error deregistering %q: %v\n", blocks[1], err)
		} else {
			fmt.Printf("Stopped serving %q\n", blocks[1])
		}
	case "list":
		rows, err := p.Catalog()
		if err != nil {
			fmt.Printf("Error listing catalogue: %v\n", err)
			return
		}
		if len(rows) == 0 {
			fmt.Println("The index has no registrations.")
			return
		}
		fmt.Println("Content advertised at the index:")
		for _, row := range rows {
			fmt.Printf("  Peer=%s  Content=%s  Addr=%s:%d\n", row.Peer, row.Content, row.IP, row.Port)
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  register <tag>     - Share a local file with the network")
		fmt.Println("  fetch <tag>        - Locate, download and start serving content")
		fmt.Println("  deregister <tag>   - Stop sharing one content tag")
		fmt.Println("  list               - Show the index's advertised content")
		fmt.Println("  status             - Show peer status")
		fmt.Println("  exit               - Deregister everything and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func peerCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "register", Description: "Share a local file"},
		{Text: "fetch", Description: "Download content and start serving it"},
		{Text: "deregister", Description: "Stop sharing one content tag"},
		{Text: "list", Description: "Show the index catalogue"},
		{Text: "status", Description: "Show peer status"},
		{Text: "exit", Description: "Deregister everything and exit"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.Flags().StringVarP(&peerName, "name", "n", "", "Peer name used in registrations (required)")
	peerCmd.Flags().StringVarP(&peerIndexAddr, "index", "x", "", "UDP address of the index (default: discover via mDNS)")
	peerCmd.Flags().StringVar(&peerAdvertiseIP, "advertise-ip", "", "IP to advertise instead of the autodetected one")
	peerCmd.Flags().StringVarP(&peerShareDir, "dir", "d", ".", "Directory holding shared files and downloads")
	peerCmd.Flags().StringVarP(&tagToRegister, "register", "r", "", "Content tag to register immediately")
	peerCmd.Flags().StringVarP(&tagToFetch, "fetch", "f", "", "Content tag to fetch immediately")
	peerCmd.Flags().BoolVarP(&peerInteractive, "interactive", "i", true, "Start the interactive shell")
	peerCmd.MarkFlagRequired("name")
}
