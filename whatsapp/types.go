package whatsapp

// Request/response shapes for the WhatsApp Business Cloud API.

type textBody struct {
	Body string `json:"body"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateRef struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type sendRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Template         *templateRef `json:"template,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// TemplateParams carries the ordered body parameters for a template send.
type TemplateParams struct {
	AgentName string
	Amount    string
	DueDate   string
}
