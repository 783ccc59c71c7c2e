// Package iris is the client for the Iris mobile API.
//
// Every operation first asks the session Renewer for a valid access
// credential and only then issues its request, which carries the stored
// access credential. Incidents fetched by GetIncidents and GetIncident are
// cached by id until ClearIncidents is called; GetIncident serves cached ids
// without touching the session or the network.
package iris
