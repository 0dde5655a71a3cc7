package main

import (
	"context"
	"flag"
	"os"

	"ticketing/internal/logger"
	"ticketing/internal/validation"
)

func main() {
	var opts validation.Options
	flag.StringVar(&opts.BaseURL, "url", "http://localhost:8081", "Base URL for API validation")
	flag.StringVar(&opts.Token, "token", os.Getenv("VALIDATE_TOKEN"), "Bearer token for authenticated checks")
	flag.Int64Var(&opts.EventID, "event", 0, "Approved event to open and cancel a checkout for (0 = skip)")
	flag.StringVar(&opts.TicketType, "ticket-type", "General", "Ticket type used by the checkout check")
	flag.Parse()

	logger.Init("INFO", "text")

	validator := validation.NewAPIValidator(opts)
	if err := validator.ValidateAll(context.Background()); err != nil {
		logger.Fatal("Валидация не пройдена", "error", err)
	}

	logger.Get().Info("Валидация успешно пройдена!")
}
