// Command seed fills the database with demo runners, posts and finished runs.
package main

import (
	"flag"
	"log"

	"runnersmap/internal/config"
	"runnersmap/internal/database"
	"runnersmap/internal/seed"
)

func main() {
	numUsers := flag.Int("users", 50, "Number of users to create")
	numPosts := flag.Int("posts", 200, "Number of posts to create")
	finished := flag.Float64("finished", 0.3, "Share of posts seeded as already run")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	lat := flag.Float64("lat", 37.5665, "Latitude posts are scattered around")
	lng := flag.Float64("lng", 126.9780, "Longitude posts are scattered around")
	radius := flag.Float64("radius", 3, "Radius in km around the center")
	flag.Parse()

	log.Println("Database Seeder")
	log.Printf("Target: %d users, %d posts, clean=%v\n", *numUsers, *numPosts, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	loc, err := cfg.RankLocation()
	if err != nil {
		log.Fatalf("Invalid rank timezone: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	res, err := seed.Seed(db, seed.Options{
		NumUsers:      *numUsers,
		NumPosts:      *numPosts,
		FinishedRatio: *finished,
		ShouldClean:   *shouldClean,
		CenterLat:     *lat,
		CenterLng:     *lng,
		RadiusKm:      *radius,
		Location:      loc,
	})
	_ = database.Close()
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("All done! %d users, %d posts, %d participations.", res.Users, res.Posts, res.Participations)
}
