// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resolver

// Every statement MERGEs on a stable natural key so replaying a job, or
// applying two jobs in either order, converges on the same graph.
const (
	mergePerson = `
MERGE (p:Person {id: $emailHash})
ON CREATE SET p.createdAt = datetime($ts), p.emailHash = $emailHash
ON MATCH SET p.lastSeen = datetime($ts)
SET p.givenName = $givenName`

	mergePhone = `
MATCH (p:Person {id: $emailHash})
MERGE (ph:PhoneNumber {telNorm: $telNorm})
MERGE (p)-[:HAS_PHONE]->(ph)`

	mergeProject = `
MATCH (p:Person {id: $emailHash})
MERGE (proj:Project {id: $projectId})
ON CREATE SET proj.createdAt = datetime($ts)
MERGE (p)-[:INITIATED]->(proj)`

	mergeProduct = `
MATCH (proj:Project {id: $projectId})
MERGE (prod:Product {id: $productId})
MERGE (proj)-[:HAS_PRODUCT]->(prod)`

	mergeAddress = `
MATCH (proj:Project {id: $projectId})
MERGE (addr:Address {postalCode: $postalCode, locality: coalesce($locality, 'unknown')})
MERGE (proj)-[:AT_LOCATION]->(addr)`

	mergeTimePref = `
MATCH (proj:Project {id: $projectId})
MERGE (tp:TimePref {startDate: date($startDate)})
MERGE (proj)-[:HAS_TIME_PREF]->(tp)`

	mergeConsent = `
MATCH (p:Person {id: $emailHash})
MERGE (c:Consent {jobId: $projectId})
ON CREATE SET c.marketing = $marketing, c.profiling = $profiling,
              c.timestamp = datetime($ts), c.status = 'active'
MERGE (p)-[:GAVE_CONSENT]->(c)`
)

// Schema lists the uniqueness constraints backing the MERGE keys. Without
// them two slots merging the same key concurrently could both create it.
var Schema = []string{
	`CREATE CONSTRAINT person_id IF NOT EXISTS FOR (n:Person) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT phone_tel IF NOT EXISTS FOR (n:PhoneNumber) REQUIRE n.telNorm IS UNIQUE`,
	`CREATE CONSTRAINT project_id IF NOT EXISTS FOR (n:Project) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT product_id IF NOT EXISTS FOR (n:Product) REQUIRE n.id IS UNIQUE`,
	`CREATE CONSTRAINT address_key IF NOT EXISTS FOR (n:Address) REQUIRE (n.postalCode, n.locality) IS UNIQUE`,
	`CREATE CONSTRAINT timepref_start IF NOT EXISTS FOR (n:TimePref) REQUIRE n.startDate IS UNIQUE`,
	`CREATE CONSTRAINT consent_job IF NOT EXISTS FOR (n:Consent) REQUIRE n.jobId IS UNIQUE`,
}
