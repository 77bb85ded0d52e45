package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dojohq/booking-management/internal/core/datamodel/booking"
	"github.com/dojohq/booking-management/internal/core/datamodel/user"
	"github.com/dojohq/booking-management/pkg/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed classes, schedules and a demo account",
	Run: func(cmd *cobra.Command, args []string) {
		runSeed()
	},
}

func runSeed() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(config.Observability.Logging.Level, config.Observability.Logging.Format)
	appLogger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize orm: %v\n", err)
		os.Exit(1)
	}

	if clearData {
		appLogger.Warn("clearing existing seed data")
		for _, table := range []string{"waiting_lists", "payment_logs", "bookings", "class_schedules", "karate_classes"} {
			if err := gormDB.Exec("DELETE FROM " + table).Error; err != nil {
				appLogger.Error("failed to clear table", "table", table, "error", err)
			}
		}
	}

	classes := []booking.KarateClass{
		{Title: "Beginners Karate", Level: "Beginner", Category: "Kids", Price: 1500, MaxStudents: 20, FreeTrialSpots: 5, IsActive: true},
		{Title: "Intermediate Karate", Level: "Intermediate", Category: "Teens", Price: 2000, MaxStudents: 15, FreeTrialSpots: 3, IsActive: true},
		{Title: "Advanced Kumite", Level: "Advanced", Category: "Adults", Price: 2500, MaxStudents: 12, FreeTrialSpots: 0, IsActive: true},
	}
	for i := range classes {
		if err := gormDB.Create(&classes[i]).Error; err != nil {
			appLogger.Error("failed to seed class", "title", classes[i].Title, "error", err)
			continue
		}
		schedules := []booking.ClassSchedule{
			{ClassID: classes[i].ID, DayOfWeek: "Monday", StartTime: "17:00", EndTime: "18:00", Location: "Main Dojo", IsActive: true},
			{ClassID: classes[i].ID, DayOfWeek: "Thursday", StartTime: "17:00", EndTime: "18:00", Location: "Main Dojo", IsActive: true},
		}
		for j := range schedules {
			if err := gormDB.Create(&schedules[j]).Error; err != nil {
				appLogger.Error("failed to seed schedule", "class_id", classes[i].ID, "error", err)
			}
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("demo-password"), config.Security.BCryptCost)
	if err != nil {
		appLogger.Error("failed to hash demo password", "error", err)
		return
	}
	demo := &user.User{
		Email:        "demo@example.com",
		Name:         "Demo Student",
		PhoneNumber:  "254712345678",
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := gormDB.Where("email = ?", demo.Email).FirstOrCreate(demo).Error; err != nil {
		appLogger.Error("failed to seed demo user", "error", err)
		return
	}

	appLogger.Info("seed complete", "classes", len(classes), "demo_user", demo.Email)
}
