package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/groupspend/groupspend/internal/app"
	"github.com/groupspend/groupspend/internal/auth"
	"github.com/groupspend/groupspend/internal/groups"
	"github.com/groupspend/groupspend/internal/money"
	"github.com/groupspend/groupspend/internal/receipts"
)

var members = []string{"alice", "bob", "carol"}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := slog.New(slog.DiscardHandler)

	storage, err := app.OpenStorage(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer storage.Close()
	services := app.NewServices(cfg, storage, app.ServiceDeps{}, logger)

	fmt.Println("→ Seeding group...")
	group, err := services.Groups.CreateGroup(ctx, groups.CreateGroupInput{
		Name:        "Weekend in Lisbon",
		Description: "demo data",
		OwnerID:     members[0],
	})
	if err != nil {
		log.Fatalf("create group: %v", err)
	}
	for _, id := range members[1:] {
		if _, err := services.Groups.AddMember(ctx, groups.AddMemberInput{
			GroupID: group.ID, ActorID: members[0], UserID: id, Role: groups.RoleMember,
		}); err != nil {
			log.Fatalf("add member %s: %v", id, err)
		}
	}

	fmt.Println("→ Seeding receipt...")
	eur := func(minor int64) money.Money { return money.New(minor, "EUR") }
	draft, err := services.Receipts.Create(ctx, receipts.ReceiptInput{
		Title:       "Taberna da Rua",
		TotalAmount: eur(6150),
		Currency:    "EUR",
		Date:        time.Now().UTC().Format("2006-01-02"),
		GroupID:     group.ID,
		UploadedBy:  members[0],
		Items: []receipts.ItemInput{
			{Name: "Bacalhau", Quantity: 2, UnitPrice: eur(1850), Category: "food"},
			{Name: "Vinho verde", Quantity: 1, UnitPrice: eur(1600), Category: "drinks"},
			{Name: "Pastel de nata", Quantity: 3, UnitPrice: eur(283), Category: "dessert"},
		},
	})
	if err != nil {
		log.Fatalf("create receipt: %v", err)
	}
	receipt := draft.Receipt

	fmt.Println("→ Seeding expenses...")
	drafts, err := services.Allocation.DraftExpenses(ctx, receipt.ID, members[0])
	if err != nil {
		log.Fatalf("draft expenses: %v", err)
	}
	for i := range drafts {
		shares, err := services.Allocation.EqualSplit(ctx, receipt.ID, members[0], drafts[i].Amount, members)
		if err != nil {
			log.Fatalf("split %s: %v", drafts[i].Name, err)
		}
		drafts[i].Shares = shares
	}
	if _, err := services.Allocation.ReplaceExpenses(ctx, receipt.ID, members[0], drafts); err != nil {
		log.Fatalf("replace expenses: %v", err)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
	fmt.Printf("  group   %s\n  receipt %s\n", group.ID, receipt.ID)
	for _, id := range members {
		token, err := verifier.Issue(id, 24*time.Hour)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Printf("  %-6s %s\n", id, token)
	}
}
