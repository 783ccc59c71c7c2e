// Package mock provides test doubles for irisctl components.
//
//   - MockClock: a controllable clock for credential expiry arithmetic.
//   - LoginFlow: a scripted login surface that records how it was opened and
//     closed, and lets a test push navigation and exit events.
//   - IrisServer: an httptest-backed fake of the Iris mobile API that issues
//     access credentials, serves incidents, and counts requests per endpoint.
package mock
