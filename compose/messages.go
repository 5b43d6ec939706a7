package compose

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/teranos/wakeup/enrich"
)

// DefaultSMSLimit is the longest body sent in one text
const DefaultSMSLimit = 1600

// Gather settings for the wake-up menu
const (
	MenuDigits         = 1
	MenuTimeoutSeconds = 10
	VoiceInputPath     = "/calls/handle-voice-input/"
)

// Spoken and texted messages
const (
	MenuPrompt = "Press 1 to change your next wake-up time. Press 2 to cancel all wake-up calls. " +
		"Press 3 to switch between call and text message. Press 0 to hang up."
	GoodbyeFallback = "Thank you for using our wake-up call service. Have a great day!"

	MsgChangeInfo     = "To change your wake-up time, please visit our website or use the mobile app."
	MsgCallsCancelled = "Your wake-up calls have been cancelled."
	MsgMethodChanged  = "Your contact method has been changed to %s."
	MsgGoodbye        = "Thank you for using our service. Have a great day!"
	MsgInvalidOption  = "Invalid option. Please try again."
	MsgCallNotFound   = "Call not found"
	MsgNoScheduled    = "You have no scheduled wake-up calls."
	MsgNextScheduled  = "Your next wake-up call is scheduled for %s."
	MsgError          = "An error occurred. Please try again later."
	MsgRegister       = "Welcome to the wake-up call service. This number is not registered. " +
		"Please sign up on our website or mobile app to schedule wake-up calls."

	SMSAllCancelled    = "All your wake-up calls have been cancelled."
	SMSProfileNotFound = "Profile not found."
	SMSChangeInfo      = "To change your wake-up time, please visit our website or use the mobile app."
	SMSMethodChanged   = "Your contact method has been changed to %s."
	SMSError           = "Sorry, an error occurred. Please try again later."
	SMSHelp            = "Sorry, I didn't understand. Reply STOP to cancel, CHANGE to modify time, " +
		"or METHOD to switch contact methods."
)

// ClockTime renders t as "6:30 AM" in loc, UTC when loc is nil
func ClockTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("3:04 PM")
}

// MethodName is the spoken name of a channel
func MethodName(channel string) string {
	if channel == "sms" {
		return "text message"
	}
	return "phone call"
}

// WeatherSentence describes current conditions
func WeatherSentence(wx enrich.Context) string {
	return fmt.Sprintf("The current temperature in %s is %s degrees with %s.", wx.Location, wx.Temperature, wx.Description)
}

// Menu is the gather prompting for one digit, posting to actionURL
func Menu(actionURL string) Gather {
	return Gather{
		NumDigits: MenuDigits,
		Timeout:   MenuTimeoutSeconds,
		Action:    actionURL,
		Prompts:   []Say{{Text: MenuPrompt}},
	}
}

// WakeUpScript is the outbound call script: greeting, weather, menu, and a
// goodbye for callers who press nothing
func WakeUpScript(scheduled time.Time, loc *time.Location, wx enrich.Context, actionURL string) VoiceResponse {
	var r VoiceResponse
	r.Say(fmt.Sprintf("Good morning! This is your wake-up call scheduled for %s.", ClockTime(scheduled, loc))).
		Say(WeatherSentence(wx)).
		Gather(Menu(actionURL)).
		Say(GoodbyeFallback).
		Hangup()
	return r
}

// Reply speaks text and returns to the menu
func Reply(text, actionURL string) VoiceResponse {
	var r VoiceResponse
	r.Say(text).Gather(Menu(actionURL))
	return r
}

// Final speaks text and hangs up
func Final(text string) VoiceResponse {
	var r VoiceResponse
	r.Say(text).Hangup()
	return r
}

// InboundGreeting greets a caller with their next scheduled time, or says
// there is none, then offers the menu
func InboundGreeting(next *time.Time, loc *time.Location, actionURL string) VoiceResponse {
	text := MsgNoScheduled
	if next != nil {
		text = fmt.Sprintf(MsgNextScheduled, ClockTime(*next, loc))
	}
	return Reply(text, actionURL)
}

// UnknownCaller asks an unregistered caller to sign up
func UnknownCaller() VoiceResponse {
	return Final(MsgRegister)
}

// SMSBody is the wake-up text, cut to limit runes (DefaultSMSLimit when <= 0)
func SMSBody(scheduled time.Time, loc *time.Location, wx enrich.Context, limit int) string {
	body := fmt.Sprintf("Good morning! Your wake-up call at %s. Current weather in %s: %s°F, %s. "+
		"Reply STOP to cancel, CHANGE to modify time, or METHOD to switch between call/text.",
		ClockTime(scheduled, loc), wx.Location, wx.Temperature, wx.Description)
	return Truncate(body, limit)
}

// Truncate cuts s to at most limit runes
func Truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultSMSLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
