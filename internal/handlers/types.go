package handlers

// UsageRequest is the request for inspecting a rate limit window.
type UsageRequest struct {
	Path string `doc:"Request path to inspect" example:"/api/v1/auth/login" query:"path" required:"true"`
}

// UsageResponse describes the caller's window for a path.
type UsageResponse struct {
	Body struct {
		Identity      string `doc:"Caller identity"                        example:"user:42"            json:"identity"`
		Path          string `doc:"Normalized path"                        example:"/api/v1/auth/login" json:"path"`
		Limit         int64  `doc:"Requests allowed per window"            example:"5"                  json:"limit"`
		WindowSeconds int64  `doc:"Window length in seconds"               example:"60"                 json:"windowSeconds"`
		Count         int64  `doc:"Requests counted in the current window" example:"3"                  json:"count"`
		Remaining     int64  `doc:"Requests left in the current window"    example:"2"                  json:"remaining"`
		ResetAt       int64  `doc:"Unix time the oldest entry expires"     example:"1700000060"         json:"resetAt,omitempty"`
	}
}

// EchoResponse is returned by the demo endpoints.
type EchoResponse struct {
	Body struct {
		Method   string `doc:"Request method"  example:"POST"               json:"method"`
		Path     string `doc:"Request path"    example:"/api/v1/auth/login" json:"path"`
		Identity string `doc:"Caller identity" example:"ip:203.0.113.7"     json:"identity"`
	}
}

// UserRequest addresses a single user.
type UserRequest struct {
	ID string `doc:"User id" example:"42" path:"id"`
}
