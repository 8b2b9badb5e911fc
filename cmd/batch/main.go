// Package main provides the batch client: it reserves credits, drives the
// metadata engine over a directory of files, and settles the job.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/stockmeta/internal/apiclient"
	"github.com/stockmeta/internal/config"
	"github.com/stockmeta/internal/engine"
	"github.com/stockmeta/internal/journal"
	"github.com/stockmeta/internal/logging"
	"github.com/stockmeta/internal/scheduler"
)

var photoExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
}

func main() {
	var (
		dir      = flag.String("dir", ".", "Directory of files to process")
		mode     = flag.String("mode", "istock", "Target platform: istock, adobe, shutterstock")
		email    = flag.String("email", os.Getenv("STOCKMETA_EMAIL"), "Account email")
		password = flag.String("password", os.Getenv("STOCKMETA_PASSWORD"), "Account password")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	if *email == "" || *password == "" {
		logger.Fatal("Email and password are required (flags or STOCKMETA_EMAIL/STOCKMETA_PASSWORD)")
	}

	ctx := context.Background()
	client := apiclient.New(cfg.Client.ServerURL)

	hostname, _ := os.Hostname()
	login, err := client.Login(ctx, *email, *password, hostname, "1.0.0")
	if err != nil {
		logger.WithError(err).Fatal("Login failed")
	}
	logger.WithFields(map[string]interface{}{
		"user":    login.User.Email,
		"credits": login.User.Credits,
	}).Info("Logged in")

	// Settle any interrupted run before reserving a new one
	j := journal.New(cfg.Client.JournalPath)
	if recovered, err := journal.Recover(ctx, j, client.Recovery()); err != nil {
		logger.WithError(err).Fatal("Recovery failed; not starting a new job")
	} else if recovered != nil {
		fields := map[string]interface{}{
			"jobToken": recovered.Record.JobToken,
			"refunded": recovered.Refunded,
		}
		if recovered.Estimated {
			fields["estimated"] = true
		}
		logger.WithFields(fields).Info("Recovered interrupted job")
	}

	files, photos, videos, err := collectFiles(*dir)
	if err != nil {
		logger.WithError(err).Fatal("Failed to scan directory")
	}
	if len(files) == 0 {
		logger.Fatal("No processable files found")
	}

	reservation, err := client.Reserve(ctx, *mode, photos, videos)
	if err != nil {
		logger.WithError(err).Fatal("Reservation failed")
	}
	job := reservation.Job
	logger.WithFields(map[string]interface{}{
		"jobToken": job.JobToken,
		"files":    len(files),
		"reserved": job.ReservedCredits,
		"balance":  reservation.Balance,
	}).Info("Credits reserved")

	if err := j.Create(job.JobToken, len(files), *mode, job.PhotoRate); err != nil {
		// The reservation stands; report it failed so credits come back
		logger.WithError(err).Error("Cannot write recovery journal, failing job")
		if _, failErr := client.Fail(ctx, job.JobToken); failErr != nil {
			logger.WithError(failErr).Error("Failing the job also failed; the expiry sweep will refund it")
		}
		os.Exit(1)
	}

	eng := engine.NewClient(cfg.Client.EngineURL, cfg.Client.EngineTimeout)
	sched := scheduler.New(cfg.Client.MaxImages, cfg.Client.MaxVideos)

	// First interrupt drains gracefully, second kills the process
	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupts
		logger.Warn("Interrupt received, finishing in-flight files...")
		sched.Stop()
		<-interrupts
		logger.Fatal("Second interrupt, aborting")
	}()

	results := sched.Run(ctx, files, func(ctx context.Context, path string) error {
		return eng.Process(ctx, path, videoExtensions[strings.ToLower(filepath.Ext(path))])
	}, func(result scheduler.Result, completed, total int) {
		if result.Outcome != scheduler.OutcomeSkipped {
			if err := j.UpdateProgress(result.Outcome == scheduler.OutcomeSuccess, result.File.Video); err != nil {
				logger.WithError(err).Warn("Failed to update recovery journal")
			}
		}
		logger.WithFields(map[string]interface{}{
			"file":     result.File.Path,
			"outcome":  result.Outcome,
			"progress": completed,
			"total":    total,
		}).Info("File processed")
	})

	var successPhotos, successVideos, failed int
	for _, result := range results {
		switch result.Outcome {
		case scheduler.OutcomeSuccess:
			if result.File.Video {
				successVideos++
			} else {
				successPhotos++
			}
		default:
			// Skipped files were never attempted; they settle as unprocessed
			failed++
		}
	}

	success := successPhotos + successVideos
	settled, err := client.Finalize(ctx, job.JobToken, success, failed, successPhotos, successVideos)
	if err != nil {
		// Keep the journal so the next run can settle the job
		logger.WithError(err).Fatal("Finalize failed; recovery journal kept for the next run")
	}

	if err := j.Delete(); err != nil {
		logger.WithError(err).Warn("Failed to remove recovery journal")
	}

	logger.WithFields(map[string]interface{}{
		"jobToken":  job.JobToken,
		"processed": success,
		"failed":    failed,
		"usage":     settled.ActualUsage,
		"refund":    settled.Refund,
		"balance":   settled.Balance,
	}).Info("Batch settled")
}

// collectFiles lists the processable files in dir, classified by media kind.
func collectFiles(dir string) (files []scheduler.File, photos, videos int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, 0, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		path := filepath.Join(dir, entry.Name())

		switch {
		case photoExtensions[ext]:
			files = append(files, scheduler.File{Path: path})
			photos++
		case videoExtensions[ext]:
			files = append(files, scheduler.File{Path: path, Video: true})
			videos++
		}
	}

	return files, photos, videos, nil
}
