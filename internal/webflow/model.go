package webflow

import "time"

type Site struct {
	ID            string         `json:"id"`
	WorkspaceID   string         `json:"workspaceId,omitempty"`
	DisplayName   string         `json:"displayName"`
	ShortName     string         `json:"shortName"`
	PreviewURL    string         `json:"previewUrl,omitempty"`
	TimeZone      string         `json:"timeZone,omitempty"`
	CreatedOn     *time.Time     `json:"createdOn,omitempty"`
	LastUpdated   *time.Time     `json:"lastUpdated,omitempty"`
	LastPublished *time.Time     `json:"lastPublished,omitempty"`
	CustomDomains []CustomDomain `json:"customDomains,omitempty"`
}

type CustomDomain struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Introspection describes what an access token was granted for.
type Introspection struct {
	Authorization Authorization `json:"authorization"`
}

type Authorization struct {
	ID           string       `json:"id"`
	GrantType    string       `json:"grantType,omitempty"`
	Scope        string       `json:"scope,omitempty"`
	AuthorizedTo AuthorizedTo `json:"authorizedTo"`
}

type AuthorizedTo struct {
	SiteIDs      []string `json:"siteIds"`
	WorkspaceIDs []string `json:"workspaceIds"`
	UserIDs      []string `json:"userIds"`
}

// User is the identity behind a Designer identity token.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}
