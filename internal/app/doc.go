// Package app composes the signflow services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── bootstrap.go        # Open: stores, blobs and mail from configuration
//	├── domain/             # Domain models (pure data structures)
//	├── storage/            # Store interfaces plus memory, postgres and redis
//	├── services/           # Business logic, one package per module
//	├── blob/               # Document content backends (memory, filesystem, s3)
//	├── pdf/                # Field stamping for completed requests
//	├── mail/               # Templates and SMTP delivery
//	├── httpapi/            # HTTP routes and handlers
//	├── system/             # Background service lifecycle
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/signflow/
//	      │
//	      ├──► internal/app/httpapi (routes)
//	      │           │
//	      ▼           ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces)
//	      │
//	      └──► internal/platform/ (database, migrations)
//
// Services never import httpapi. Handlers translate requests into service
// calls and service errors into HTTP responses through internal/httputil.
//
// # Adding a New Module
//
//  1. Create domain models in internal/app/domain/<name>/
//  2. Add a store interface to internal/app/storage/interfaces.go
//  3. Implement it in storage/memory and storage/postgres, with a migration
//  4. Create the service in internal/app/services/<name>/
//  5. Wire it in application.go
//  6. Add handlers in internal/app/httpapi/
package app
