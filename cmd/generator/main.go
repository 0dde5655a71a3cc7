package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"ticketing/internal/config"
	"ticketing/internal/database"
	"ticketing/internal/logger"
	"ticketing/internal/models"
	"ticketing/internal/repository"
)

var (
	clearExisting = flag.Bool("clear", false, "Delete all events, tickets and checkouts before seeding")
	eventCount    = flag.Int("events", 20, "Number of demo events to generate")
	dryRun        = flag.Bool("dry-run", false, "Show what would be generated without making changes")
	seed          = flag.Int64("seed", 42, "Random seed for reproducible data")
)

var demoUsers = []models.User{
	{Email: "admin@ticketing.local", Name: "Admin", Role: models.RoleAdmin, IsActive: true},
	{Email: "organizer@ticketing.local", Name: "Organizer", Role: models.RoleOrganizer, IsActive: true},
	{Email: "buyer@ticketing.local", Name: "Buyer", Role: models.RoleUser, IsActive: true},
	{Email: "friend@ticketing.local", Name: "Friend", Role: models.RoleUser, IsActive: true},
}

var (
	categories = []string{"music", "tech", "sports", "theatre", "food"}
	locations  = []string{"Almaty", "Astana", "Shymkent", "Online"}
	adjectives = []string{"Summer", "Night", "Annual", "Open", "Grand"}
	nouns      = []string{"Festival", "Conference", "Meetup", "Championship", "Show"}
)

type Generator struct {
	db    *database.DB
	repos *repository.Repositories
}

func main() {
	flag.Parse()
	logger.Init("INFO", "text")
	log := logger.Get()

	log.Info("Starting demo data generator...", "events", *eventCount, "dry_run", *dryRun)

	plan := planEvents(rand.New(rand.NewSource(*seed)), *eventCount, time.Now().UTC())
	if *dryRun {
		for _, e := range plan {
			log.Info("[DRY RUN] Would create event", "title", e.Title, "status", e.Status,
				"starts_at", e.StartsAt.Format(time.DateOnly), "ticket_types", len(e.TicketTypes))
		}
		return
	}

	cfg := config.Load()
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		log.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	g := &Generator{db: db, repos: repository.NewRepositories(db)}
	if err := g.Run(context.Background(), plan); err != nil {
		log.Error("Failed to generate demo data", "error", err)
		os.Exit(1)
	}

	log.Info("Demo data generation completed successfully!")
}

func (g *Generator) Run(ctx context.Context, plan []models.Event) error {
	if *clearExisting {
		if err := g.clear(ctx); err != nil {
			return err
		}
	}

	users, err := g.ensureUsers(ctx)
	if err != nil {
		return err
	}
	admin, organizer := users[models.RoleAdmin], users[models.RoleOrganizer]

	for i := range plan {
		event := &plan[i]
		event.OwnerID = organizer
		if event.Status == models.EventApproved {
			event.ApprovedBy = &admin
		}
		if err := g.repos.Events.Create(ctx, event); err != nil {
			logger.Get().Error("Failed to create event", "title", event.Title, "error", err)
			continue
		}
		logger.Get().Info("Created event", "event_id", event.ID, "title", event.Title, "status", event.Status)
	}
	return nil
}

func (g *Generator) clear(ctx context.Context) error {
	_, err := g.db.ExecContext(ctx, `
		TRUNCATE ticket_owner_history, payments, registration_tickets, registrations,
		         checkouts, tickets, reservations, ticket_types, events
		RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("failed to clear existing data: %w", err)
	}
	logger.Get().Info("Cleared existing events and bookings")
	return nil
}

// ensureUsers returns the user id for each demo role, creating users that
// do not exist yet.
func (g *Generator) ensureUsers(ctx context.Context) (map[models.Role]int64, error) {
	ids := make(map[models.Role]int64)
	for _, u := range demoUsers {
		existing, err := g.repos.Users.GetByEmail(ctx, u.Email)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			user := u
			if err := g.repos.Users.Create(ctx, &user); err != nil {
				return nil, fmt.Errorf("failed to create user %s: %w", u.Email, err)
			}
			existing = &user
			logger.Get().Info("Created demo user", "email", user.Email, "role", user.Role)
		}
		if _, ok := ids[existing.Role]; !ok {
			ids[existing.Role] = existing.UserID
		}
	}
	return ids, nil
}

// planEvents builds n demo events starting after now. Every fourth event is
// left pending moderation.
func planEvents(rng *rand.Rand, n int, now time.Time) []models.Event {
	events := make([]models.Event, 0, n)
	for i := 0; i < n; i++ {
		category := categories[rng.Intn(len(categories))]
		title := fmt.Sprintf("%s %s %s #%d",
			adjectives[rng.Intn(len(adjectives))], category, nouns[rng.Intn(len(nouns))], i+1)
		description := fmt.Sprintf("Demo %s event", category)

		status := models.EventApproved
		if i%4 == 3 {
			status = models.EventPending
		}

		general := 50 + rng.Intn(451)
		events = append(events, models.Event{
			Title:       title,
			Description: &description,
			Category:    category,
			Location:    locations[rng.Intn(len(locations))],
			StartsAt:    now.AddDate(0, 0, 7+rng.Intn(120)).Truncate(time.Hour),
			Status:      status,
			TicketTypes: []models.TicketType{
				{Name: "General", Price: decimal.NewFromInt(int64(10 + rng.Intn(91))), Capacity: general},
				{Name: "VIP", Price: decimal.NewFromInt(int64(150 + rng.Intn(351))), Capacity: 1 + general/10},
			},
		})
	}
	return events
}
