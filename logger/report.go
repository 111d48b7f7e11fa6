package logger

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	streamReads    int64
	pollReads      int64
	spreadWrites   int64
	alertsEmitted  int64
	broadcastsSent int64
	warnCount      int64
	errorCount     int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(string) {
	atomic.AddInt64(&warnCount, 1)
}

func recordError(string) {
	atomic.AddInt64(&errorCount, 1)
}

// IncrementStreamRead counts one accepted websocket quote.
func IncrementStreamRead(venue string) {
	atomic.AddInt64(&streamReads, 1)
	recordChannel(venue+"_stream", 0)
}

// IncrementPollRead counts one accepted fallback poll quote.
func IncrementPollRead(venue string) {
	atomic.AddInt64(&pollReads, 1)
	recordChannel(venue+"_poll", 0)
}

func IncrementSpreadWrite(size int) {
	atomic.AddInt64(&spreadWrites, 1)
	recordChannel("spread_persist", size)
}

func IncrementAlert() {
	atomic.AddInt64(&alertsEmitted, 1)
}

func IncrementBroadcast(size int) {
	atomic.AddInt64(&broadcastsSent, 1)
	recordChannel("broadcast", size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

// StartReport begins periodic logging of system and data-flow statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	fields := Fields{
		"stream_reads":  atomic.LoadInt64(&streamReads),
		"poll_reads":    atomic.LoadInt64(&pollReads),
		"spread_writes": atomic.LoadInt64(&spreadWrites),
		"alerts":        atomic.LoadInt64(&alertsEmitted),
		"broadcasts":    atomic.LoadInt64(&broadcastsSent),
		"warns":         atomic.LoadInt64(&warnCount),
		"errors":        atomic.LoadInt64(&errorCount),
		"goroutines":    runtime.NumGoroutine(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		fields["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		fields["memory_mb"] = float64(vm.Used) / 1024 / 1024
	}

	channels.Range(func(key, value interface{}) bool {
		cs := value.(*channelStat)
		fields[key.(string)+"_messages"] = atomic.LoadInt64(&cs.messages)
		fields[key.(string)+"_bytes"] = atomic.LoadInt64(&cs.bytes)
		return true
	})

	log.WithComponent("report").WithFields(fields).Info("operational report")

	data := make([]cwtypes.MetricDatum, 0, 4)
	for name, value := range map[string]int64{
		"StreamReads":  atomic.LoadInt64(&streamReads),
		"PollReads":    atomic.LoadInt64(&pollReads),
		"SpreadWrites": atomic.LoadInt64(&spreadWrites),
		"Alerts":       atomic.LoadInt64(&alertsEmitted),
	} {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(value)),
		})
	}
	publishMetrics(ctx, data)
}
