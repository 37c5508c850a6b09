// Contest engine demo: starts (or resumes) a run against a contest server,
// keeps the leaderboard fresh from broker notifications, and prints what a
// real client UI would render.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quizrun/quizrun/internal/authority"
	"github.com/quizrun/quizrun/internal/client"
	"github.com/quizrun/quizrun/internal/engine/leaderboard"
	"github.com/quizrun/quizrun/internal/engine/session"
	"github.com/quizrun/quizrun/internal/engine/syncer"
	"github.com/quizrun/quizrun/internal/models"
	"github.com/quizrun/quizrun/internal/notify"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		serverURL = flag.String("server", getEnv("CONTEST_URL", "http://localhost:8080"), "contest server base URL")
		natsURL   = flag.String("nats", getEnv("NATS_URL", "nats://localhost:4222"), "NATS URL")
		name      = flag.String("name", "", "participant name")
		code      = flag.String("code", "", "reclaim code for resuming")
		partition = flag.String("partition", string(models.PartitionMain), "contest partition")
		pageSize  = flag.Int("page-size", 10, "leaderboard page size")
	)
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "usage: -name <participant> [-code <reclaim code>]")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	clock := clockwork.NewRealClock()
	authorityClient := client.New(*serverURL)

	machine := session.New(authorityClient, models.Partition(*partition), clock)
	outcome, err := machine.Start(ctx, *name, "", *code)
	if err != nil {
		if errors.Is(err, authority.ErrContestClosed) {
			fmt.Println("contest is closed:", err)
			return
		}
		log.Fatal().Err(err).Msg("failed to start run")
	}
	if outcome.ReclaimRequired {
		fmt.Println("a run already exists for this name; pass -code with your reclaim code")
		return
	}

	run := machine.Run()
	if outcome.Resumed {
		fmt.Printf("resumed run %s, score so far %d\n", run.ID, run.Score)
	} else {
		fmt.Printf("started run %s, reclaim code %s (keep it!)\n", run.ID, run.ReclaimCode)
	}
	for _, slot := range machine.Slots() {
		marker := " "
		if slot.Locked {
			marker = "*"
		}
		fmt.Printf("%s %2d. %s\n", marker, slot.Order+1, slot.Text)
	}

	cache := leaderboard.NewCache(*pageSize)
	locator := leaderboard.NewLocator(authorityClient, cache, clock)
	scheduler := syncer.New(syncer.Config{
		Clock:     clock,
		Authority: authorityClient,
		Cache:     cache,
		Locator:   locator,
		RunInfo:   machine.RunInfo,
		OnRank: func(p models.Partition, rank int) {
			fmt.Printf("[%s] your rank: %d\n", p, rank)
		},
	})
	scheduler.Start(ctx)
	defer scheduler.Close()

	consumerConfig := notify.DefaultConsumerConfig()
	consumerConfig.URL = *natsURL
	consumerConfig.ConsumerName = "contest-engine-" + run.ID.String()[:8]
	consumer, err := notify.NewConsumer(scheduler.Notify, consumerConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create change consumer")
	}
	defer consumer.Stop()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("change consumer failed")
		}
	}()

	// Prime the leaderboard once, then let notifications drive refreshes.
	scheduler.Notify(models.Partition(*partition))

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Println("bye")
			return
		case <-ticker.C:
			printPage(cache, models.Partition(*partition))
		}
	}
}

func printPage(cache *leaderboard.Cache, partition models.Partition) {
	page := cache.Page(partition)
	if page == nil {
		return
	}
	fmt.Printf("--- %s leaderboard (page %d, %d total) ---\n", partition, page.PageIndex+1, page.TotalCount)
	for i, entry := range page.Entries {
		crown := " "
		if entry.IsWinner {
			crown = "W"
		}
		fmt.Printf("%s %2d. %-20s %3d  %6.1fs\n",
			crown, page.PageIndex*page.PageSize+i+1, entry.Participant, entry.Score,
			float64(entry.ElapsedMs)/1000)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
