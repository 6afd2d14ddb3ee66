package workflow

import "fmt"

// Workflow types with dedicated prompt templates. Unknown types use the
// general business-automation template.
const (
	TypeEmail     = "email"
	TypeSocial    = "social"
	TypeEcommerce = "ecommerce"
)

type promptTemplate struct {
	system string
	user   string
}

var promptTemplates = map[string]promptTemplate{
	TypeEmail: {
		system: "You are an AI assistant that helps create personalized email content for any purpose. " +
			"Create engaging, professional email content based on the user's request. " +
			"Adapt to any business context, industry, or personal situation mentioned in the prompt.",
		user: "Create an email for: %s\nContext: %s\nTone: Professional but friendly\nLength: 150-200 words\n" +
			"Note: Create content that matches exactly what the user requested, regardless of industry or business type.",
	},
	TypeSocial: {
		system: "You are an AI assistant that creates engaging social media content for any business or purpose. " +
			"Create content that is shareable, engaging, and appropriate for the specified platform and context.",
		user: "Create social media content for: %s\nContext: %s\nTone: Engaging and professional\nInclude relevant hashtags\n" +
			"Note: Adapt to any industry, business type, or context mentioned in the prompt.",
	},
	TypeEcommerce: {
		system: "You are an AI assistant that helps with e-commerce automation tasks for any type of business. " +
			"Provide helpful responses for product descriptions, customer service, and inventory management.",
		user: "E-commerce task: %s\nContext: %s\nProvide a helpful, accurate response\n" +
			"Note: Work with any product, service, or business type mentioned in the prompt.",
	},
}

var defaultTemplate = promptTemplate{
	system: "You are an AI assistant that helps with business automation tasks for any industry or purpose. " +
		"Provide helpful, professional responses that add value to the business workflow.",
	user: "Task: %s\nContext: %s\nProvide a helpful response\n" +
		"Note: Adapt to any business context, industry, or situation mentioned in the prompt.",
}

// BuildPrompt renders the full model prompt for a workflow type.
func BuildPrompt(workflowType, input, context string) string {
	tpl, ok := promptTemplates[workflowType]
	if !ok {
		tpl = defaultTemplate
	}
	return tpl.system + "\n\n" + fmt.Sprintf(tpl.user, input, context)
}
