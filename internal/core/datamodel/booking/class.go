package booking

import "time"

// KarateClass carries the capacity and pricing facts the orchestrator
// needs. Content management of classes lives outside this service.
type KarateClass struct {
	ID             int64     `gorm:"primaryKey"`
	Title          string    `gorm:"column:title;not null"`
	Level          string    `gorm:"column:level"`
	Category       string    `gorm:"column:category"`
	Price          int64     `gorm:"column:price;not null"`
	MaxStudents    int       `gorm:"column:max_students;default:20"`
	FreeTrialSpots int       `gorm:"column:free_trial_spots;default:5"`
	IsActive       bool      `gorm:"column:is_active;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (KarateClass) TableName() string { return "karate_classes" }

type ClassSchedule struct {
	ID        int64  `gorm:"primaryKey"`
	ClassID   int64  `gorm:"column:class_id;not null;index"`
	DayOfWeek string `gorm:"column:day_of_week;not null"`
	StartTime string `gorm:"column:start_time;not null"`
	EndTime   string `gorm:"column:end_time;not null"`
	Location  string `gorm:"column:location;default:Main Dojo"`
	IsActive  bool   `gorm:"column:is_active;default:true"`
}

func (ClassSchedule) TableName() string { return "class_schedules" }
