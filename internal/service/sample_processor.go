// internal/service/sample_processor.go
package service

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"example.com/fleetwatch/services/telemetry/internal/broadcast"
	"example.com/fleetwatch/services/telemetry/internal/models"

	"github.com/sirupsen/logrus"
)

// SampleProcessor fans inbound samples out to a pool of workers. Samples are
// sharded onto per-worker queues by device UID, so one device's samples are
// always handled by the same worker in arrival order while different devices
// proceed in parallel.
type SampleProcessor struct {
	pipeline *broadcast.Pipeline
	log      *logrus.Logger
	workers  int
	queues   []chan *models.DeviceSample
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	queueCapacityAlertThreshold float64
}

// NewSampleProcessor creates a sample processor with a worker pool
func NewSampleProcessor(pipeline *broadcast.Pipeline, log *logrus.Logger, workers, queueSize int) *SampleProcessor {
	ctx, cancel := context.WithCancel(context.Background())

	queues := make([]chan *models.DeviceSample, workers)
	for i := range queues {
		queues[i] = make(chan *models.DeviceSample, queueSize/workers+1)
	}

	sp := &SampleProcessor{
		pipeline:                    pipeline,
		log:                         log,
		workers:                     workers,
		queues:                      queues,
		ctx:                         ctx,
		cancel:                      cancel,
		queueCapacityAlertThreshold: 0.8,
	}

	sp.startWorkers()
	go sp.monitorQueueCapacity()

	sp.log.Infof("Started sample processor with %d workers", workers)

	return sp
}

// startWorkers launches the worker goroutines
func (sp *SampleProcessor) startWorkers() {
	for i := 0; i < sp.workers; i++ {
		sp.wg.Add(1)
		go sp.worker(i)
	}
}

// worker drains one shard's queue
func (sp *SampleProcessor) worker(id int) {
	defer sp.wg.Done()

	for {
		select {
		case <-sp.ctx.Done():
			sp.log.Debugf("Worker %d shutting down", id)
			return
		case sample := <-sp.queues[id]:
			start := time.Now()
			sp.processSample(sample)
			sp.log.Debugf("Worker %d processed sample in %v", id, time.Since(start))
		}
	}
}

// processSample runs one sample through the pipeline, absorbing failures so
// a bad sample never takes a worker down
func (sp *SampleProcessor) processSample(sample *models.DeviceSample) {
	result, err := sp.pipeline.Process(sp.ctx, sample)
	if err != nil {
		sp.log.WithError(err).Warnf("Failed to process sample for device %s", sample.DeviceUID)
		return
	}
	if !result.Broadcast && result.Reason != "" {
		sp.log.WithFields(logrus.Fields{
			"device": sample.DeviceUID,
			"reason": result.Reason,
		}).Debug("Sample not broadcast")
	}
}

// monitorQueueCapacity logs a warning when any shard approaches capacity
func (sp *SampleProcessor) monitorQueueCapacity() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sp.ctx.Done():
			return
		case <-ticker.C:
			for i, q := range sp.queues {
				usage := float64(len(q)) / float64(cap(q))
				if usage >= sp.queueCapacityAlertThreshold {
					sp.log.Warnf("Sample queue shard %d at %d%% capacity (%d/%d)",
						i, int(usage*100), len(q), cap(q))
				}
			}
		}
	}
}

// shardFor picks the worker shard for a device UID
func (sp *SampleProcessor) shardFor(deviceUID string) int {
	h := fnv.New32a()
	h.Write([]byte(deviceUID))
	return int(h.Sum32() % uint32(sp.workers))
}

// EnqueueSample adds a sample to its device's shard for processing
func (sp *SampleProcessor) EnqueueSample(sample *models.DeviceSample) error {
	select {
	case sp.queues[sp.shardFor(sample.DeviceUID)] <- sample:
		return nil
	default:
		return errors.New("sample queue is full")
	}
}

// Stop gracefully shuts the processor down
func (sp *SampleProcessor) Stop() {
	sp.log.Info("Stopping sample processor...")
	sp.cancel()
	sp.wg.Wait()
	sp.log.Info("Sample processor stopped")
}

// QueueStats returns current queue statistics
func (sp *SampleProcessor) QueueStats() map[string]interface{} {
	queued := 0
	capacity := 0
	for _, q := range sp.queues {
		queued += len(q)
		capacity += cap(q)
	}
	return map[string]interface{}{
		"queue_length":   queued,
		"queue_capacity": capacity,
		"worker_count":   sp.workers,
	}
}
