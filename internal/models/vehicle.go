package models

// RateTable holds the per-vehicle prices in whole yen.
type RateTable struct {
	SameDay     int64 `yaml:"same_day" json:"same_day"`
	OneNight    int64 `yaml:"one_night" json:"one_night"`
	TwoNights   int64 `yaml:"two_nights" json:"two_nights"`
	ThreeNights int64 `yaml:"three_nights" json:"three_nights"`
	// FourPlus is a flat rate for any rental of four or more nights.
	FourPlus  int64 `yaml:"four_plus_nights" json:"four_plus_nights"`
	ChildSeat int64 `yaml:"child_seat" json:"child_seat"`
	Insurance int64 `yaml:"insurance" json:"insurance"`
}

type Vehicle struct {
	ID          string    `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Rank        string    `yaml:"rank" json:"rank"`
	NumberPlate string    `yaml:"number_plate" json:"number_plate"`
	CalendarID  string    `yaml:"calendar_id" json:"-"`
	Rates       RateTable `yaml:"rates" json:"rates"`
}

// Quote is an itemized price. Total always equals the sum of Items.
type Quote struct {
	Nights int        `json:"nights"`
	Tier   string     `json:"tier"`
	Items  []LineItem `json:"items"`
	Total  int64      `json:"total"`
}

type LineItem struct {
	Code      string `json:"code"`
	UnitPrice int64  `json:"unit_price"`
	Units     int    `json:"units"`
	Amount    int64  `json:"amount"`
}
