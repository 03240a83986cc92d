package server

import (
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	validation "github.com/jellydator/validation"
	bookingdomain "github.com/smallbiznis/staybook/internal/booking/domain"
	"github.com/smallbiznis/staybook/internal/otp"
	paymentdomain "github.com/smallbiznis/staybook/internal/payment/domain"
	userdomain "github.com/smallbiznis/staybook/internal/user/domain"
)

const dateOnlyLayout = "2006-01-02"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var emailRule = validation.NewStringRuleWithError(
	func(s string) bool { return emailPattern.MatchString(strings.TrimSpace(s)) },
	validation.NewError("validation_email_format", "must be a valid email address"),
)

var notBlank = validation.NewStringRuleWithError(
	func(s string) bool { return strings.TrimSpace(s) != "" },
	validation.NewError("validation_not_blank", "must not be blank"),
)

var snowflakeRule = validation.NewStringRuleWithError(
	func(s string) bool {
		_, err := snowflake.ParseString(strings.TrimSpace(s))
		return err == nil
	},
	validation.NewError("validation_id_format", "must be a numeric id"),
)

type CreateBookingRequest struct {
	RoomID     string `json:"room_id"`
	CheckIn    string `json:"check_in"`
	CheckOut   string `json:"check_out"`
	GuestCount int    `json:"guest_count"`
	GuestName  string `json:"guest_name"`
	GuestEmail string `json:"guest_email"`
	GuestPhone string `json:"guest_phone"`
	Note       string `json:"note"`
	PayMethod  string `json:"pay_method"`
}

func (r *CreateBookingRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.RoomID, validation.Required, snowflakeRule),
		validation.Field(&r.CheckIn, validation.Required, validation.Date(dateOnlyLayout)),
		validation.Field(&r.CheckOut, validation.Required, validation.Date(dateOnlyLayout)),
		validation.Field(&r.GuestCount, validation.Required, validation.Min(1)),
		validation.Field(&r.GuestName, validation.Required, notBlank, validation.Length(1, 255)),
		validation.Field(&r.GuestEmail, validation.Required, emailRule),
		validation.Field(&r.GuestPhone, validation.Length(0, 32)),
		validation.Field(&r.Note, validation.Length(0, 1000)),
		validation.Field(&r.PayMethod, validation.In(bookingdomain.PayMethodZaloPay, bookingdomain.PayMethodMoMo)),
	)
}

// ToDomain parses the stay dates as calendar days in loc.
func (r *CreateBookingRequest) ToDomain(loc *time.Location) (bookingdomain.CreateBookingRequest, error) {
	roomID, err := snowflake.ParseString(strings.TrimSpace(r.RoomID))
	if err != nil {
		return bookingdomain.CreateBookingRequest{}, err
	}
	checkIn, err := time.ParseInLocation(dateOnlyLayout, r.CheckIn, loc)
	if err != nil {
		return bookingdomain.CreateBookingRequest{}, err
	}
	checkOut, err := time.ParseInLocation(dateOnlyLayout, r.CheckOut, loc)
	if err != nil {
		return bookingdomain.CreateBookingRequest{}, err
	}
	return bookingdomain.CreateBookingRequest{
		RoomID:     roomID,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		GuestCount: r.GuestCount,
		Guest: bookingdomain.Guest{
			Name:  r.GuestName,
			Email: r.GuestEmail,
			Phone: r.GuestPhone,
		},
		Note:      r.Note,
		PayMethod: r.PayMethod,
	}, nil
}

type IssueOTPRequest struct {
	Action string `json:"action"`
	Email  string `json:"email"`
}

func (r *IssueOTPRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Action, validation.Required, validation.In(otp.ActionRegister, otp.ActionResetPassword)),
		validation.Field(&r.Email, validation.Required, emailRule),
	)
}

type VerifyOTPRequest struct {
	Action      string `json:"action"`
	Email       string `json:"email"`
	Code        string `json:"code"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

func (r *VerifyOTPRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Action, validation.Required, validation.In(otp.ActionRegister, otp.ActionResetPassword)),
		validation.Field(&r.Email, validation.Required, emailRule),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6)),
		validation.Field(&r.DisplayName, validation.Length(0, 255)),
		validation.Field(&r.Password, validation.Length(userdomain.MinPasswordLength, 128)),
	)
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (r *ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.Required, emailRule),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6)),
	)
}

type ChangePasswordRequest struct {
	ResetToken  string `json:"reset_token"`
	NewPassword string `json:"new_password"`
}

func (r *ChangePasswordRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ResetToken, validation.Required, notBlank),
		validation.Field(&r.NewPassword, validation.Required, validation.Length(userdomain.MinPasswordLength, 128)),
	)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r *LoginRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Email, validation.Required, emailRule),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 128)),
	)
}

type SearchRoomsRequest struct {
	CheckIn  string `form:"check_in"`
	CheckOut string `form:"check_out"`
	Guests   int    `form:"guests"`
	MaxPrice int64  `form:"max_price"`
	RoomType string `form:"room_type"`
	Page     int    `form:"page"`
	Limit    int    `form:"limit"`
}

func (r *SearchRoomsRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CheckIn, validation.Required, validation.Date(dateOnlyLayout)),
		validation.Field(&r.CheckOut, validation.Required, validation.Date(dateOnlyLayout)),
		validation.Field(&r.Guests, validation.Min(0), validation.Max(20)),
		validation.Field(&r.MaxPrice, validation.Min(int64(0))),
		validation.Field(&r.RoomType, validation.Length(0, 64)),
		validation.Field(&r.Page, validation.Min(0)),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(50)),
	)
}

func (r *SearchRoomsRequest) ToDomain(loc *time.Location) (bookingdomain.AvailabilityQuery, error) {
	checkIn, err := time.ParseInLocation(dateOnlyLayout, r.CheckIn, loc)
	if err != nil {
		return bookingdomain.AvailabilityQuery{}, err
	}
	checkOut, err := time.ParseInLocation(dateOnlyLayout, r.CheckOut, loc)
	if err != nil {
		return bookingdomain.AvailabilityQuery{}, err
	}
	page := r.Page
	if page < 1 {
		page = 1
	}
	return bookingdomain.AvailabilityQuery{
		CheckIn:  checkIn,
		CheckOut: checkOut,
		Guests:   r.Guests,
		MaxPrice: r.MaxPrice,
		RoomType: r.RoomType,
		Page:     page,
		Limit:    r.Limit,
	}, nil
}

type MonthlyRevenueRequest struct {
	Year     int    `form:"year"`
	Provider string `form:"provider"`
}

func (r *MonthlyRevenueRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Year, validation.Required),
		validation.Field(&r.Provider, validation.In(paymentdomain.ProviderZaloPay, paymentdomain.ProviderMoMo)),
	)
}
