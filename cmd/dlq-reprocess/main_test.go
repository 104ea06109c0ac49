package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/babyfood/internal/messaging/kafka"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestReadConfig_Defaults(t *testing.T) {
	cfg, err := readConfig(nil, envMap(map[string]string{envKafkaBrokers: " broker-1:9092, ,broker-2:9092 "}), io.Discard)
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if len(cfg.brokers) != 2 || cfg.brokers[0] != "broker-1:9092" || cfg.brokers[1] != "broker-2:9092" {
		t.Fatalf("unexpected brokers: %+v", cfg.brokers)
	}
	if cfg.sourceTopic != kafka.TopicDeadLetterQueue || cfg.targetTopic != kafka.TopicOrderEvents {
		t.Fatalf("unexpected topics: %s -> %s", cfg.sourceTopic, cfg.targetTopic)
	}
	if cfg.limit != defaultReplayLimit || cfg.idleTimeout != defaultIdleTimeout {
		t.Fatalf("unexpected limits: %d, %s", cfg.limit, cfg.idleTimeout)
	}
	if cfg.execute || cfg.fromNewest || cfg.includePermanent || cfg.onlyTopic != "" {
		t.Fatalf("dry-run defaults expected, got %+v", cfg)
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	cfg, err := readConfig([]string{
		"-brokers=broker-1:9092,broker-2:9092",
		"-source-topic=babyfood.dlq",
		"-target-topic=babyfood.order.events",
		"-only-topic=babyfood.payment.events",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-include-permanent",
		"-idle-timeout=3s",
	}, envMap(map[string]string{envKafkaBrokers: "ignored:9092"}), io.Discard)
	if err != nil {
		t.Fatalf("readConfig failed: %v", err)
	}
	if len(cfg.brokers) != 2 {
		t.Fatalf("flag brokers must win over env, got %+v", cfg.brokers)
	}
	if cfg.limit != 10 || !cfg.execute || !cfg.fromNewest || !cfg.includePermanent {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.onlyTopic != kafka.TopicPaymentEvents {
		t.Fatalf("unexpected only-topic: %s", cfg.onlyTopic)
	}
	if cfg.idleTimeout != 3*time.Second {
		t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
	}
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "brokers", args: []string{"-brokers="}, want: "kafka brokers are required"},
		{name: "source", args: []string{"-brokers=broker:9092", "-source-topic= "}, want: "source-topic is required"},
		{name: "target", args: []string{"-brokers=broker:9092", "-target-topic="}, want: "target-topic is required"},
		{name: "same topic", args: []string{"-brokers=broker:9092", "-target-topic=babyfood.dlq"}, want: "must differ"},
		{name: "limit", args: []string{"-brokers=broker:9092", "-limit=0"}, want: "limit must be > 0"},
		{name: "idle", args: []string{"-brokers=broker:9092", "-idle-timeout=0s"}, want: "idle-timeout must be > 0"},
		{name: "unknown flag", args: []string{"-brokers=broker:9092", "-nope"}, want: "flag provided but not defined"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := readConfig(tc.args, envMap(nil), io.Discard)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got: %v", tc.want, err)
			}
		})
	}
}

func TestRun_UsesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := testConfig()
	cfg.limit = 1
	cfg.execute = true

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: closedPartitionConsumer([]*sarama.ConsumerMessage{{Partition: 0, Offset: 0, Value: []byte(paymentDeadLetter)}}),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(producer.sent) != 1 {
		t.Fatalf("expected one replayed message, got %d", len(producer.sent))
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func TestRun_PropagatesReplayError(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	client := &stubOffsetClient{partitionsErr: errors.New("metadata unavailable")}
	consumer := &stubPartitionConsumerSource{}
	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, nil, nil
	}

	if err := run(context.Background(), testConfig()); err == nil || !strings.Contains(err.Error(), "metadata unavailable") {
		t.Fatalf("expected partitions error, got %v", err)
	}
	if !client.closed || !consumer.closed {
		t.Fatal("deps must be closed on error")
	}
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_TEST_FAIL_EXIT") == "1" {
		fail("boom")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	if err == nil {
		t.Fatal("expected subprocess to exit with error")
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit code, got %v", err)
	}
}
