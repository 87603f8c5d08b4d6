package dialog

import (
	"fmt"
	"strings"
)

const serviceMenu = "• Plumbing (leaks, clogs, taps)\n" +
	"• Drain cleaning\n" +
	"• Water heater / geyser\n" +
	"• Pipe repair / replacement\n" +
	"• Bathroom fitting / installation\n" +
	"• Electrical (minor)\n" +
	"• Other"

func (e *Engine) phonePrompt() string {
	return fmt.Sprintf("Hi! I'm your %s assistant. To help you book a service, please reply with your phone number "+
		"(e.g., 9123456789) so I can create a personalized booking link for you.", e.cfg.Name)
}

func (e *Engine) phoneRetry() string {
	return "Please enter a valid phone number (digits only, e.g., 9123456789) so I can create your booking link."
}

func (e *Engine) phoneSaved(phone string) string {
	return fmt.Sprintf("Perfect! Your phone number %s is saved. Which service do you need? For example: "+
		"Plumbing, Drain cleaning, Water heater, Pipe repair, Bathroom fitting, Electrical, or Other.", phone)
}

func (e *Engine) phoneLinked(phone string) string {
	return fmt.Sprintf("Great! I've linked this chat to your phone %s. How can I help you today? "+
		"Just say \"I need help\" or \"book service\" to get started.", phone)
}

func (e *Engine) cancelled() string {
	return "Your request has been cancelled. If you need plumbing services in the future, just text me anytime. Have a great day!"
}

func (e *Engine) emergency() string {
	return fmt.Sprintf("🚨 If this is an emergency, please call our 24/7 emergency line: %s. "+
		"For non-urgent requests, I can help you book a service right away!", e.cfg.EmergencyLine)
}

func (e *Engine) pricing(link string) string {
	return "Our pricing varies by service type and complexity. To get an accurate quote, please use your personalized booking form: " +
		link + "\n\nOur certified plumbers will provide a detailed quote before starting any work. No surprises!"
}

func (e *Engine) menu() string {
	return "I'm here to help! 🔧 Which plumbing service do you need?\n\n" + serviceMenu +
		"\n\nJust reply with the service type you need!"
}

func (e *Engine) menuRetry() string {
	return "I didn't quite catch that. Please choose from:\n\n" + serviceMenu + "\n\nJust type the service you need!"
}

func (e *Engine) describeOther() string {
	return "Please briefly describe the plumbing issue you're experiencing. The more details you provide, the better we can help!"
}

func (e *Engine) serviceSelected(label, link string) string {
	return fmt.Sprintf("Excellent! %s service selected.\n\nPlease complete your booking using this secure link:\n%s\n\n"+
		"After booking, you can track everything online!", label, link)
}

func (e *Engine) otherNoted(desc, link string) string {
	return fmt.Sprintf("Got it! I've noted your request: %q\n\nComplete your booking here:\n%s\n\n"+
		"Our expert plumbers will review your specific needs and provide the best solution!", desc, link)
}

func (e *Engine) submittedAck() string {
	return fmt.Sprintf("🎉 Fantastic! Your booking request has been received.\n\n"+
		"Our certified plumbers will review your request and you'll receive an acceptance notification soon.\n"+
		"Track progress at: %s\n\nThank you for choosing %s!", TrackingLink(e.cfg.BookingBaseURL), e.cfg.Name)
}

func (e *Engine) notYet(link string) string {
	return "No worries! Take your time. Your booking link is always ready:\n" + link +
		"\n\nJust reply \"Done\" when you've completed the form!"
}

func (e *Engine) resend(link string) string {
	return "Here's your booking link again:\n" + link + "\n\nReply \"Done\" after you've filled out the form!"
}

func (e *Engine) linkReminder(link string) string {
	return "Please complete your booking form: " + link +
		"\n\nAfter filling it out, reply \"Done\" and I'll confirm everything is set! Need the link again? Just ask!"
}

func (e *Engine) underReview() string {
	return "⏳ Your booking is being reviewed by our team. You'll get a notification once a plumber accepts your request!\n\n" +
		"Track live updates: " + TrackingLink(e.cfg.BookingBaseURL) +
		"\n\nUsually takes 30-60 minutes during business hours."
}

func (e *Engine) submittedStatus() string {
	return "Your booking request is submitted!\n\nTrack status: " + TrackingLink(e.cfg.BookingBaseURL) +
		"\nOur plumbers are reviewing your request. Need help with something else?"
}

func (e *Engine) directSelected(label, link string) string {
	return fmt.Sprintf("Perfect! %s service selected.\n\nBook your appointment:\n%s\n\n"+
		"Quick, secure, and easy! Reply \"Done\" when finished.", label, link)
}

func (e *Engine) greeting() string {
	return fmt.Sprintf("Hi! I'm your %s assistant. 🔧\n\nNeed plumbing help? Just say:\n"+
		"• \"I need help\"\n• \"Book service\"\n• Or describe your issue\n\nI'll guide you through everything!", e.cfg.Name)
}

// Notification renders the status update pushed by the booking system.
func (e *Engine) Notification(status, providerName string) string {
	link := TrackingLink(e.cfg.BookingBaseURL)
	switch status {
	case "accepted":
		return fmt.Sprintf("🎉 Great news! Your plumbing service has been accepted by %s!\n\n"+
			"Booking confirmed. Track progress: %s\n\nThank you for choosing %s!",
			orDefault(providerName, "our certified plumber"), link, e.cfg.Name)
	case "quotation_sent":
		return "📋 Your service quotation is ready!\n\nReview pricing and accept or reject online: " + link +
			"\nOr reply here for assistance."
	case "completed":
		return fmt.Sprintf("✅ Service completed successfully!\n\nWork finished by %s. Invoice available: %s\n"+
			"Please rate your experience.\n\nThank you for choosing %s!",
			orDefault(providerName, "your plumber"), link, e.cfg.Name)
	default:
		return fmt.Sprintf("Update on your plumbing service:\n\nStatus: %s\nFull details: %s\n\nQuestions? Just reply here!",
			strings.ReplaceAll(status, "_", " "), link)
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
