package main

import (
	"context"
	"flag"
	"log"
	"time"

	"main/internal/core"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/ops"
	"main/internal/schema"
	"main/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	statsInterval := flag.Duration("stats-interval", 15*time.Second, "Counter snapshot log interval (0=disable)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if loaded.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.Profiling.AppName,
			ServerAddress:   loaded.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	orderJournal, err := openJournal(loaded)
	if err != nil {
		log.Fatalf("journal open failed: %v", err)
	}

	gw := core.New(core.Options{
		Gateway: core.GatewayEndpoint{
			Host:        loaded.Gateway.Host,
			Port:        loaded.Gateway.Port,
			ClientID:    int64(loaded.Gateway.ClientID),
			DialTimeout: loaded.Gateway.DialTimeout,
		},
		Stream: core.StreamEndpoint{
			BaseURL:   loaded.Stream.BaseURL,
			AccountID: loaded.Stream.AccountID,
			APIKey:    loaded.Stream.APIKey,
		},
		Orders: og.Config{
			BaseURL:   loaded.Orders.BaseURL,
			AccountID: loaded.Orders.AccountID,
			APIKey:    loaded.Orders.APIKey,
		},
		Instruments: loaded.Instruments,
		Journal:     orderJournal,
	})

	ctx := context.Background()
	if err := gw.Connect(ctx); err != nil {
		log.Fatalf("connect failed: %v", err)
	}

	for _, ins := range loaded.Instruments {
		if err := gw.Subscribe(ins); err != nil {
			logs.Errorf("subscribe %s failed: %v", ins.Pair(), err)
		}
	}

	detach := gw.OnUpdate(func(u schema.QuoteUpdate) {
		logs.Debugf("%s %s=%s seq=%d src=%d", u.Instrument.Pair(), u.Field, u.Value, u.Seq, u.Source)
	})
	defer detach()

	if *statsInterval > 0 {
		go reportStats(gw, *statsInterval)
	}

	logs.Infof("gateway up, streaming %d instruments", len(loaded.Instruments))
	<-sys.Shutdown()

	logs.Info("shutting down")
	if err := gw.Close(); err != nil {
		logs.Errorf("shutdown: %v", err)
	}
}

func openJournal(loaded ops.Loaded) (*journal.Journal, error) {
	if !loaded.Journal.Enabled {
		return nil, nil
	}
	client, err := conn.New(conn.Option{
		Host:     loaded.Journal.Host,
		Port:     loaded.Journal.Port,
		User:     loaded.Journal.User,
		Password: loaded.JournalPassword(),
		Database: loaded.Journal.Database,
		SSLMode:  loaded.Journal.SSLMode,
	})
	if err != nil {
		return nil, err
	}
	return journal.New(client)
}

func reportStats(gw *core.Core, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ticker.C:
			logStats(gw.Metrics())
		}
	}
}

func logStats(s obs.Snapshot) {
	logs.Infof("updates=%v malformed=%d unresolved=%d heartbeats=%d replays=%d drops=%d orders=%d rejected=%d",
		s.FieldCounts, s.MalformedDropped, s.UnresolvedDropped, s.HeartbeatsDropped, s.ReplayDropped, s.BroadcastDropped, s.OrdersSubmitted, s.OrdersRejected)
}
