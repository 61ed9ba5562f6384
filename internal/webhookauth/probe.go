package webhookauth

import (
	"encoding/json"
	"strconv"
	"strings"
)

// accountProbe holds the few payload fields used to find the installation
// before the signature is checked.
type accountProbe struct {
	OrganizationID string `json:"organizationId"`
	Installation   *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
	Repository *struct {
		Owner struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Project *struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
}

// ProbeAccountID reads the platform account identifier from a raw payload.
// An empty string means the payload carries none.
func ProbeAccountID(platform string, body []byte) string {
	var probe accountProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}

	switch platform {
	case "github":
		if probe.Installation != nil && probe.Installation.ID != 0 {
			return strconv.FormatInt(probe.Installation.ID, 10)
		}
		if probe.Repository != nil {
			return probe.Repository.Owner.Login
		}
	case "gitlab":
		if probe.Project != nil {
			namespace, _, _ := strings.Cut(probe.Project.PathWithNamespace, "/")
			return namespace
		}
	case "linear":
		return probe.OrganizationID
	}
	return ""
}
