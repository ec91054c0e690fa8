package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geoattend/internal/config"
	"geoattend/internal/geo"
	"geoattend/internal/queue"
	"geoattend/internal/session"
	"geoattend/internal/store"
)

// The worker consumes check-in events and runs the authoritative geofence
// verification pass, promoting records to "verified" or demoting to
// "failed_location".
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	pg := store.NewPostgres(db.Client, redisClient.Client)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "geoattend:checkins")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for check-in events...")
	for msg := range messages {
		if msg.Type != "checkin" {
			continue
		}

		var evt queue.CheckInEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad checkin event: %v", err)
			continue
		}
		log.Printf("verifying check-in: session=%s student=%s", evt.SessionID, evt.StudentID)

		rec, err := pg.GetAttendance(ctx, evt.SessionID, evt.StudentID)
		if err != nil || rec == nil {
			log.Printf("fetch attendance failed for %s/%s: %v", evt.SessionID, evt.StudentID, err)
			continue
		}
		if rec.Status != session.RecordCheckedIn {
			// Already finalized (left early, auto checkout, or a prior pass).
			continue
		}

		s, err := pg.GetSession(ctx, evt.SessionID)
		if err != nil || s == nil {
			log.Printf("fetch session %s failed: %v", evt.SessionID, err)
			continue
		}

		status := session.RecordVerified
		verified := true
		if !geo.ValidateLocationForSession(s.Location, rec.CheckInLocation, s.RadiusM) {
			status = session.RecordFailedLocation
			verified = false
		}
		if err := pg.SetVerified(ctx, evt.SessionID, evt.StudentID, status, verified); err != nil {
			log.Printf("verification update failed for %s/%s: %v", evt.SessionID, evt.StudentID, err)
			continue
		}
		log.Printf("check-in %s/%s: %s", evt.SessionID, evt.StudentID, status)

		time.Sleep(10 * time.Millisecond)
	}

	log.Println("worker stopped")
}
