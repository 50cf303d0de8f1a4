package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	l := New(LoaderConfig{Path: path})

	topo, err := l.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(topo.Controls) == 0 {
		t.Fatal("expected default topology to have controls")
	}
	if len(topo.FlowPaths) != 1 {
		t.Fatalf("expected one default flow path, got %d", len(topo.FlowPaths))
	}
	if topo.CheckSecret == "" {
		t.Fatal("expected bootstrap to fill in a check secret")
	}
}

func TestLoadPersistsCheckSecretAcrossReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	l := New(LoaderConfig{Path: path})
	first, err := l.Load()
	if err != nil {
		t.Fatal(err)
	}

	l2 := New(LoaderConfig{Path: path})
	second, err := l2.Load()
	if err != nil {
		t.Fatal(err)
	}
	if second.CheckSecret != first.CheckSecret {
		t.Fatalf("expected check secret to persist, got %q then %q", first.CheckSecret, second.CheckSecret)
	}
}

func TestLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	l := New(LoaderConfig{Path: path})
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}

	l2 := New(LoaderConfig{Path: path})
	topo, err := l2.Load()
	if err != nil {
		t.Fatal(err)
	}
	if topo.FlowPaths[0].PumpControl != "pump1" {
		t.Fatalf("expected round-tripped pump control pump1, got %s", topo.FlowPaths[0].PumpControl)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	l := New(LoaderConfig{Path: path})
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if err := l.Watch(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	reloaded := make(chan *Topology, 1)
	l.Subscribe(func(topo *Topology) {
		select {
		case reloaded <- topo:
		default:
		}
	})

	topo := l.Current()
	topo.FlowPaths[0].DefaultPurgeRate = 9.5
	data, err := json.MarshalIndent(topo, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-reloaded:
		if got.FlowPaths[0].DefaultPurgeRate != 9.5 {
			t.Fatalf("expected reloaded rate 9.5, got %f", got.FlowPaths[0].DefaultPurgeRate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("topology change was never observed")
	}
}
