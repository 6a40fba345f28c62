// Copyright 2026 SEQSENSE, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command kvsannotator draws face search results of Amazon Rekognition
// Video on the archived fragments of a stream and publishes them to
// another stream.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	kva "github.com/seqsense/kvsannotator"
	"github.com/seqsense/kvsannotator/config"
	"github.com/seqsense/kvsannotator/ingest"
	"github.com/seqsense/kvsannotator/mediafragment"
	"github.com/seqsense/kvsannotator/recognition"
	"github.com/seqsense/kvsannotator/reprocess"
)

var logrusLevels = map[kva.LogLevel]logrus.Level{
	kva.LogLevelDebug: logrus.DebugLevel,
	kva.LogLevelInfo:  logrus.InfoLevel,
	kva.LogLevelWarn:  logrus.WarnLevel,
	kva.LogLevelError: logrus.ErrorLevel,
}

func main() {
	configPath := flag.String("config", "kvsannotator.yaml", "Path to the configuration file")
	listSince := flag.Duration("list-since", 0,
		"Republish the fragments of the source stream stored within the duration without annotation, instead of consuming face search results")
	flag.Parse()

	logger := logrus.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	logger.SetLevel(logrusLevels[cfg.Level()])
	kva.SetLogger(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		logger.Fatal(err)
	}
	media, err := cfg.Media.CameraConfiguration()
	if err != nil {
		logger.Fatal(err)
	}

	cli, err := kva.New(awsCfg)
	if err != nil {
		logger.Fatal(err)
	}
	if err := cli.EnsureStream(ctx, cfg.OutputStream, int32(media.RetentionHours), "video/h264"); err != nil {
		logger.Fatal(err)
	}
	fetcher, err := mediafragment.New(kva.StreamName(cfg.SourceStream), awsCfg)
	if err != nil {
		logger.Fatal(err)
	}

	worker := reprocess.NewWorker(fetcher,
		reprocess.ProviderSinkFactory(cli, kva.StreamName(cfg.OutputStream)),
		reprocess.WithMediaConfiguration(*media),
		reprocess.WithMaxTimeout(cfg.MaxTimeout()),
	)
	// In-flight fragments are processed to the end on shutdown.
	pool := reprocess.NewPool(context.Background(), worker, cfg.MaxConcurrentFragments)

	if *listSince > 0 {
		republish(ctx, fetcher, pool, *listSince)
	} else {
		consume(ctx, cfg, pool)
	}

	logger.Info("Waiting for in-flight fragments")
	if err := pool.Wait(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func consume(ctx context.Context, cfg *config.Config, pool *reprocess.Pool) {
	idx := recognition.NewIndex()
	proc := ingest.NewProcessor(idx,
		ingest.WithRetries(cfg.Ingest.Retries),
		ingest.WithBackoff(cfg.Ingest.Backoff()),
	)
	src := ingest.NewKafkaSource(kafka.ReaderConfig{
		Brokers: cfg.Ingest.Brokers,
		Topic:   cfg.Ingest.Topic,
		GroupID: cfg.Ingest.GroupID,
	}, ingest.WithBatchSize(cfg.Ingest.BatchSize))

	err := src.Run(ctx, func(ctx context.Context, payloads [][]byte) error {
		n := proc.ProcessBatch(ctx, payloads)
		dispatched := pool.Dispatch(idx)
		kva.Logger().Infof("Batch processed (records:%d stored:%d fragments:%d)", len(payloads), n, dispatched)
		return nil
	})
	if err != nil {
		kva.Logger().Errorf("Ingestion stopped: %v", err)
	}
}

func republish(ctx context.Context, fetcher *mediafragment.Client, pool *reprocess.Pool, since time.Duration) {
	now := time.Now()
	list, err := fetcher.ListAllFragments(ctx, mediafragment.WithServerTimestampRange(now.Add(-since), now))
	if err != nil {
		kva.Logger().Errorf("Failed to list fragments: %v", err)
		return
	}
	list.Uniq()
	kva.Logger().Infof("Republishing fragments (count:%d since:%v)", list.Len(), since)
	for _, id := range list.FragmentIDs() {
		if ctx.Err() != nil {
			return
		}
		if !pool.Submit(id, nil) {
			kva.Logger().Debugf("Fragment is being processed (fragment:%s)", id)
		}
	}
}
