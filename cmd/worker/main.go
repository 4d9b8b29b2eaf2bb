package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"

	"github.com/tanmaysingewar/betterindex/internal/chat"
	"github.com/tanmaysingewar/betterindex/internal/config"
	"github.com/tanmaysingewar/betterindex/internal/db"
	"github.com/tanmaysingewar/betterindex/internal/logger"
	"github.com/tanmaysingewar/betterindex/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	gdb := db.Connect(cfg.DBDSN)
	repo := chat.NewRepo(gdb)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	// declaration must match the publisher's dead-letter setup
	_, err = ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.RabbitQueue + ".dlq",
	})
	if err != nil {
		logger.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("worker started queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var batch rabbitmq.TurnBatch
				if err := json.Unmarshal(d.Body, &batch); err != nil || batch.ChatID == "" {
					logger.Warnf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleBatch(ctx, repo, batch); err != nil {
					logger.Errorf("worker=%d batch chat_id=%s failed cost=%s err=%v",
						workerID, batch.ChatID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					logger.Errorf("worker=%d ack failed chat_id=%s err=%v", workerID, batch.ChatID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Infof("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warnf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleBatch persists a client-held transcript for a chat the sender owns.
// A batch for a missing or foreign chat is dropped, not retried.
func handleBatch(ctx context.Context, repo *chat.Repo, batch rabbitmq.TurnBatch) error {
	owner, err := repo.GetChat(ctx, batch.ChatID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warnf("dropping batch for unknown chat chat_id=%s", batch.ChatID)
			return nil
		}
		return err
	}
	if owner.UserID != batch.UserID {
		logger.Warnf("dropping batch for foreign chat chat_id=%s", batch.ChatID)
		return nil
	}

	turns, err := chat.PairEntries(batch.ChatID, batch.Entries)
	if err != nil {
		return err
	}
	return repo.InsertTurns(ctx, turns)
}
