// Command worldsyncd runs one participant of a world-synchronization
// session: a host that accepts peer connections and owns save-state
// persistence, or a peer that dials in to a host.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/log"
	"github.com/dannyzb/worldsync"
	"github.com/dannyzb/worldsync/netbus"
	"github.com/dannyzb/worldsync/storage"
)

type args struct {
	Listen   string `arg:"--listen" help:"address to accept peer connections on, host mode"`
	Join     string `arg:"--join" help:"host websocket URL to dial, peer mode"`
	SaveFile string `arg:"--save-file" help:"bbolt file host chunk storage persists to"`
	PeerId   uint64 `arg:"--peer-id" help:"this process's peer id on the bus"`
	TickRate time.Duration `arg:"--tick-rate" default:"50ms" help:"interval between GC/liveness sweeps"`
}

func (args) Description() string {
	return "runs a world-synchronization host or peer over a websocket bus"
}

func main() {
	var a args
	arg.MustParse(&a)

	logger := log.Default
	if err := run(a, logger); err != nil {
		logger.Printf("worldsyncd: %v", err)
		os.Exit(1)
	}
}

func run(a args, logger log.Logger) error {
	isHost := a.Listen != ""
	self := worldsync.PeerId(a.PeerId)

	var save *storage.SaveState
	if isHost && a.SaveFile != "" {
		var err error
		save, err = storage.Open(a.SaveFile)
		if err != nil {
			return fmt.Errorf("opening save file: %w", err)
		}
	}

	bus := netbus.NewWSBus(self, logger)
	defer bus.Close()

	var hostPeer worldsync.PeerId
	if isHost {
		mux := http.NewServeMux()
		mux.HandleFunc("/world", func(w http.ResponseWriter, r *http.Request) {
			id := worldsync.PeerId(time.Now().UnixNano())
			if err := bus.ServeHTTP(id, w, r); err != nil {
				logger.Printf("worldsyncd: accepting peer: %v", err)
			}
		})
		go http.ListenAndServe(a.Listen, mux)
	} else {
		hostPeer = 1
		if err := bus.Dial(hostPeer, a.Join); err != nil {
			return fmt.Errorf("dialing host: %w", err)
		}
	}

	manager, err := worldsync.New(isHost, self, hostPeer, save, logger)
	if err != nil {
		return fmt.Errorf("constructing world manager: %w", err)
	}
	defer manager.Close()

	go pumpOutbound(manager, bus, logger)
	go pumpDeparted(manager, bus)
	go tickLiveness(manager, a.TickRate)

	for {
		env, err := bus.Recv()
		if err != nil {
			return fmt.Errorf("reading from bus: %w", err)
		}
		manager.HandleMsg(env.From, env.Message)
	}
}

func pumpOutbound(manager *worldsync.WorldManager, bus *netbus.WSBus, logger log.Logger) {
	for {
		for _, req := range manager.GetEmittedMsgs() {
			if err := bus.Send(req.Dest, req.Message); err != nil {
				logger.Printf("worldsyncd: sending message: %v", err)
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func pumpDeparted(manager *worldsync.WorldManager, bus *netbus.WSBus) {
	for peer := range bus.Departed() {
		manager.HandlePeerLeft(peer)
	}
}

func tickLiveness(manager *worldsync.WorldManager, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for range t.C {
		manager.Update()
	}
}
